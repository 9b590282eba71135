package cache

import (
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// Stats describes the local cache tier.
type Stats struct {
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

func profileKey(subscriberID string) string {
	return "profile:" + subscriberID
}

func encodeProfile(p *domain.RiskProfile) ([]byte, error) {
	if p == nil || p.SubscriberID == "" {
		return nil, fmt.Errorf("%w: profile subscriberId is required", domain.ErrInvalidInput)
	}
	return json.Marshal(p)
}

func decodeProfile(data []byte) (*domain.RiskProfile, error) {
	var p domain.RiskProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode cached profile: %w", err)
	}
	return &p, nil
}
