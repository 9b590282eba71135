package effects

import (
	"fmt"

	"github.com/opensource-finance/riskguard/internal/decision"
	"github.com/opensource-finance/riskguard/internal/domain"
)

var templates = map[string]string{
	domain.ActionBlock:          "Your account has been temporarily blocked due to a security risk.",
	domain.ActionSuspendAccount: "Your account has been suspended due to suspicious activity. Please contact customer support.",
	domain.ActionTempBlock:      "Your transactions have been temporarily restricted.",
	domain.ActionOpenFraudCase:  "Your transaction is under review. We will keep you informed.",
	domain.ActionForce2FA:       "Additional verification (2FA) is now required on your account for security reasons.",
	domain.ActionRateLimit:      "You have reached your transaction limit. Please try again later.",
	domain.ActionNotifyUser:     "We noticed activity on your account that you may want to review.",
	domain.ActionAlert:          "Unusual activity has been detected on your account.",
	domain.ActionMonitor:        "Your transaction is going through a security check.",
}

func init() {
	if err := checkTemplates(); err != nil {
		panic(err)
	}
}

// checkTemplates verifies every non-ALLOW action in the severity table has
// a message template.
func checkTemplates() error {
	for _, action := range decision.Actions() {
		if action == domain.ActionAllow {
			continue
		}
		if _, ok := templates[action]; !ok {
			return fmt.Errorf("effects: no notification template for action %s", action)
		}
	}
	return nil
}

// Message returns the notification text for action.
func Message(action string) string {
	action = decision.Normalize(action)
	if msg, ok := templates[action]; ok {
		return msg
	}
	return fmt.Sprintf("Action %s has been applied to your account.", action)
}
