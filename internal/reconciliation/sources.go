package reconciliation

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/elitemodel/backoffice/internal/config"
	"github.com/elitemodel/backoffice/internal/email/inbound/connector"
	"github.com/elitemodel/backoffice/internal/models"
)

// ApplicationStore is the part of the application repository the matcher uses.
type ApplicationStore interface {
	GetByPaymentReference(ctx context.Context, ref string) (*models.Application, error)
	// AcceptPayment appends note to the admin notes of a REVIEW row and reports
	// false when the row had already left REVIEW.
	AcceptPayment(ctx context.Context, id int64, amount decimal.Decimal, note string) (bool, error)
}

// FeeSource supplies the application fee; it is asked once per pass.
type FeeSource interface {
	RequiredFee(ctx context.Context) (decimal.Decimal, error)
}

// Settings is the per-pass mailbox configuration.
type Settings struct {
	Account         connector.Account
	TokenPrefix     string
	TrustedSenders  []string
	// MarkSkippedSeen sets \Seen on messages whose outcome is final without
	// being accepted: untrusted_sender, unparsed and not_pending.
	MarkSkippedSeen bool
}

// SettingsSource supplies Settings; it is asked once per pass.
type SettingsSource interface {
	Settings(ctx context.Context) (Settings, error)
}

// Locker is a cross-process run guard such as a Redis lease.
type Locker interface {
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}

// ConfigSettings reads Settings from the live configuration.
type ConfigSettings struct{}

func (ConfigSettings) Settings(context.Context) (Settings, error) {
	cfg := config.Get()
	if cfg == nil {
		return Settings{}, errors.New("configuration not loaded")
	}
	mb := cfg.Mailbox
	if !mb.Enabled || !mb.Configured() {
		return Settings{}, ErrReconciliationDisabled
	}
	return Settings{
		Account: connector.Account{
			Host:               mb.Host,
			Port:               mb.Port,
			Username:           mb.Username,
			Password:           []byte(mb.Password),
			Folder:             mb.Folder,
			TLS:                mb.TLS,
			InsecureSkipVerify: mb.InsecureSkipVerify,
			DialTimeout:        mb.DialTimeout,
			CommandTimeout:     mb.CommandTimeout,
			MaxFetch:           mb.MaxFetch,
		},
		TokenPrefix:     cfg.Payments.TokenPrefix,
		TrustedSenders:  mb.TrustedSenders,
		MarkSkippedSeen: mb.MarkSkippedSeen,
	}, nil
}
