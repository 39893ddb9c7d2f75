// Package contacts resolves inbound sender addresses to known
// identities. A directory maps a phone number to a display name and an
// organization; unknown senders get an anonymous context so the rest of
// the pipeline never branches on "who is this".
package contacts

import (
	"context"
	"strings"
	"time"

	"github.com/porterlabs/porter-agent/internal/convo"
)

// orgIDField is the vCard extended property carrying the organization
// identifier used by the business data service. The standard ORG field
// holds the display name, not the ID.
const orgIDField = "X-PORTER-ORG-ID"

// Resolver maps a sender address to a user context.
type Resolver interface {
	// Resolve looks up a sender. A nil context with a nil error means
	// the sender is unknown; callers substitute an anonymous context.
	Resolve(ctx context.Context, sender string) (*convo.UserContext, error)
}

// NormalizePhone reduces a phone number to digits with an optional
// leading +, so formatting differences between the webhook and the
// directory don't break matching.
func NormalizePhone(raw string) string {
	var sb strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			sb.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Anonymous builds the context used for senders no directory knows.
// The normalized address doubles as the identity key so conversation
// state still works for strangers.
func Anonymous(sender string) *convo.UserContext {
	return &convo.UserContext{
		IdentityID: NormalizePhone(sender),
		ResolvedAt: time.Now(),
	}
}
