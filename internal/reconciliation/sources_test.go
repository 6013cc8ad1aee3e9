package reconciliation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elitemodel/backoffice/internal/config"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := config.Get()
	config.Set(c)
	t.Cleanup(func() { config.Set(prev) })
}

func TestConfigSettingsDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mailbox.Enabled = false
	cfg.Mailbox.Host = "imap.example.com"
	cfg.Mailbox.Username = "odeme"
	cfg.Mailbox.Password = "secret"
	withConfig(t, cfg)

	_, err := ConfigSettings{}.Settings(context.Background())
	assert.ErrorIs(t, err, ErrReconciliationDisabled)
}

func TestConfigSettingsUnconfiguredIsDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mailbox.Enabled = true
	cfg.Mailbox.Host = ""
	withConfig(t, cfg)

	_, err := ConfigSettings{}.Settings(context.Background())
	assert.ErrorIs(t, err, ErrReconciliationDisabled)
}

func TestConfigSettingsReadsLiveConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mailbox.Enabled = true
	cfg.Mailbox.Host = "imap.example.com"
	cfg.Mailbox.Username = "odeme"
	cfg.Mailbox.Password = "secret"
	cfg.Payments.TokenPrefix = "ELX"
	withConfig(t, cfg)

	settings, err := ConfigSettings{}.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", settings.Account.Host)
	assert.Equal(t, 993, settings.Account.Port)
	assert.Equal(t, []byte("secret"), settings.Account.Password)
	assert.Equal(t, "INBOX", settings.Account.Mailbox())
	assert.True(t, settings.Account.TLS)
	assert.Equal(t, "ELX", settings.TokenPrefix)
	assert.Equal(t, 100, settings.Account.FetchLimit())
	assert.True(t, settings.MarkSkippedSeen)

	next := config.Defaults()
	next.Mailbox = cfg.Mailbox
	next.Mailbox.Host = "imap2.example.com"
	config.Set(next)

	settings, err = ConfigSettings{}.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "imap2.example.com", settings.Account.Host, "settings are read on every call")
}

func TestConfigSettingsWithoutConfig(t *testing.T) {
	withConfig(t, nil)

	_, err := ConfigSettings{}.Settings(context.Background())
	assert.Error(t, err)
}
