// RiskGuard - Behavioral risk decisions for subscriber events.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/riskguard/internal/decision"
	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/engine"
	"github.com/opensource-finance/riskguard/internal/rules"
)

func newEvaluateCmd() *cobra.Command {
	var eventsPath, rulesPath string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Dry-run events against a rule file without touching storage",
		Long: `evaluate reads one event or an array of events and a JSON array of rules,
runs the decision pipeline in memory and prints one result per event.
Profiles are carried between events of the same subscriber, so a file of
events replays a subscriber's history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := readEvents(eventsPath)
			if err != nil {
				return err
			}
			ruleSet, err := readRules(rulesPath)
			if err != nil {
				return err
			}
			return dryRun(cmd.Context(), engine.NewOptions(cfg.Engine), events, ruleSet, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&eventsPath, "event", "", "event JSON file (object or array)")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "rules JSON file (array)")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("rules")
	return cmd
}

// dryResult is the printed result for one event.
type dryResult struct {
	EventID      string              `json:"eventId"`
	SubscriberID string              `json:"subscriberId"`
	Triggered    []string            `json:"triggered"`
	Skipped      []string            `json:"skipped,omitempty"`
	RuleFailures []rules.Failure     `json:"ruleFailures,omitempty"`
	Outcome      *domain.Outcome     `json:"outcome"`
	Profile      *domain.RiskProfile `json:"profile"`
}

func dryRun(ctx context.Context, opts engine.Options, events []*domain.Event, ruleSet []*domain.RiskRule, w io.Writer) error {
	profiles := make(map[string]*domain.RiskProfile)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	for _, ev := range events {
		outcome, scan := engine.Decide(ctx, ev, ruleSet, profiles[ev.SubscriberID], opts)
		if scan.Err != nil {
			return scan.Err
		}
		if outcome != nil {
			profiles[ev.SubscriberID] = outcome.Profile
		}

		res := dryResult{
			EventID:      ev.ID,
			SubscriberID: ev.SubscriberID,
			Triggered:    make([]string, 0, len(scan.Triggered)),
			Skipped:      scan.Skipped,
			RuleFailures: scan.Failures,
			Outcome:      outcome,
			Profile:      profiles[ev.SubscriberID],
		}
		for _, r := range scan.Triggered {
			res.Triggered = append(res.Triggered, r.ID)
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return nil
}

func readEvents(path string) ([]*domain.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	var reqs []domain.EventRequest
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, fmt.Errorf("parse events: %w", err)
		}
	} else {
		var one domain.EventRequest
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		reqs = append(reqs, one)
	}

	now := time.Now().UTC()
	events := make([]*domain.Event, 0, len(reqs))
	for i := range reqs {
		ev, err := reqs[i].ToEvent(uuid.New().String(), now)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// fileRule mirrors domain.RiskRule but lets isActive default to true.
type fileRule struct {
	ID        string `json:"ruleId"`
	Condition string `json:"condition"`
	Action    string `json:"action"`
	Priority  int    `json:"priority"`
	Active    *bool  `json:"isActive"`
	Signal    string `json:"signal"`
	RiskScore int    `json:"riskScore"`
}

// readRules loads a rule file. Inactive rules are dropped; file order is
// the fetch order used for tie-breaks.
func readRules(path string) ([]*domain.RiskRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var raw []fileRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	out := make([]*domain.RiskRule, 0, len(raw))
	for i, fr := range raw {
		if fr.Active != nil && !*fr.Active {
			continue
		}
		id := fr.ID
		if id == "" {
			id = fmt.Sprintf("rule-%d", i+1)
		}
		out = append(out, &domain.RiskRule{
			ID:        id,
			Condition: fr.Condition,
			Action:    decision.Normalize(fr.Action),
			Priority:  fr.Priority,
			Active:    true,
			Signal:    fr.Signal,
			RiskScore: fr.RiskScore,
		})
	}
	return out, nil
}
