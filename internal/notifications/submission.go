package notifications

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/elitemodel/backoffice/internal/config"
	"github.com/elitemodel/backoffice/internal/models"
)

// SubmissionNotifier tells the back office about new applications.
type SubmissionNotifier struct {
	provider EmailProvider
	logger   *log.Logger
	loc      *time.Location
}

type NotifierOption func(*SubmissionNotifier)

// WithProvider pins the provider instead of resolving one per call.
func WithProvider(p EmailProvider) NotifierOption {
	return func(n *SubmissionNotifier) {
		n.provider = p
	}
}

func WithLogger(l *log.Logger) NotifierOption {
	return func(n *SubmissionNotifier) {
		if l != nil {
			n.logger = l
		}
	}
}

func WithLocation(loc *time.Location) NotifierOption {
	return func(n *SubmissionNotifier) {
		if loc != nil {
			n.loc = loc
		}
	}
}

func NewSubmissionNotifier(opts ...NotifierOption) *SubmissionNotifier {
	n := &SubmissionNotifier{logger: log.Default(), loc: time.UTC}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ApplicationSubmitted sends a plain-text notice to the configured admin
// recipients. It is a no-op when the notice is switched off or nobody is listed.
func (n *SubmissionNotifier) ApplicationSubmitted(ctx context.Context, app *models.Application) error {
	if app == nil {
		return fmt.Errorf("nil application")
	}
	cfg := config.Get()
	if cfg == nil || !cfg.Notifications.ApplicationSubmitted {
		return nil
	}
	recipients := cleanRecipients(cfg.Notifications.AdminRecipients)
	if len(recipients) == 0 {
		return nil
	}

	provider := n.provider
	if provider == nil {
		provider = GetEmailProvider()
	}
	if provider == nil {
		email := cfg.Email
		provider = NewSMTPProvider(&email)
	}

	msg := EmailMessage{
		To:      recipients,
		Subject: fmt.Sprintf("New application: %s", app.FullName),
		Body:    n.submissionBody(app),
	}
	if err := provider.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending submission notice for application %d: %w", app.ID, err)
	}
	n.logger.Printf("notifications: submission notice for application %d sent to %d recipient(s)", app.ID, len(recipients))
	return nil
}

func (n *SubmissionNotifier) submissionBody(app *models.Application) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A new application is waiting for review.\n\n")
	fmt.Fprintf(&b, "Name: %s\n", app.FullName)
	if app.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", app.Email)
	}
	if app.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", app.Phone)
	}
	if ref := app.Reference(); ref != "" {
		fmt.Fprintf(&b, "Payment reference: %s\n", ref)
	}
	created := app.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	fmt.Fprintf(&b, "Submitted: %s\n", created.In(n.loc).Format("2006-01-02 15:04"))
	return b.String()
}

func cleanRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
