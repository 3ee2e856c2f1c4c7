package stripe

import (
	"strings"

	"iconforge/internal/domain/billing"
)

// NormalizeStatus folds Stripe's subscription status vocabulary onto the
// three states the billing core tracks.
func NormalizeStatus(s string) string {
	switch strings.TrimSpace(s) {
	case "active", "trialing":
		return billing.StatusActive
	case "past_due", "unpaid":
		return billing.StatusPastDue
	case "canceled", "incomplete_expired":
		return billing.StatusCanceled
	default:
		return strings.TrimSpace(s)
	}
}
