package notify

import (
	"context"
	"fmt"

	"github.com/bryanwahyu/shopwatch/internal/domain/alerts"
	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
)

// Router dispatches alert delivery by channel. Email goes out through the
// mail API. The admin surface is the alerts table itself; the dashboard reads
// recorded alerts, so that channel succeeds once the caller persists the row.
type Router struct {
	Email *Mailer
}

func NewRouter(email *Mailer) *Router {
	return &Router{Email: email}
}

func (r *Router) Send(ctx context.Context, ch alerts.Channel, recipient string, iss *issues.Issue) error {
	switch ch {
	case alerts.ChannelEmail:
		if r.Email == nil {
			return fmt.Errorf("email channel not configured")
		}
		return r.Email.Send(ctx, recipient, iss)
	case alerts.ChannelAdmin:
		return nil
	default:
		return fmt.Errorf("unknown alert channel: %s", ch)
	}
}
