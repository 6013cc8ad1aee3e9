package config

import (
	"fmt"
	"log"
	"strings"
)

// Values shipped in config.example.yaml that must never reach production.
var examplePasswords = map[string]bool{
	"change-me":        true,
	"elite_password":   true,
	"mailbox-password": true,
	"smtp-password":    true,
}

type Validator struct {
	config   *Config
	errors   []string
	warnings []string
}

func NewValidator(cfg *Config) *Validator {
	return &Validator{
		config:   cfg,
		errors:   []string{},
		warnings: []string{},
	}
}

// Validate checks credentials and feature toggles. Problems that would be
// fatal in production are only warnings in other environments.
func (v *Validator) Validate() error {
	if v.config == nil {
		return fmt.Errorf("configuration not loaded")
	}
	isProduction := v.config.App.IsProduction()

	v.validateDatabase(isProduction)
	v.validateMailbox(isProduction)
	v.validateNotifications(isProduction)

	if len(v.errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.errors, "\n"))
	}
	for _, w := range v.warnings {
		log.Printf("config: %s", w)
	}
	return nil
}

// Warnings returns the non-fatal findings of the last Validate call.
func (v *Validator) Warnings() []string {
	return v.warnings
}

func (v *Validator) validateDatabase(isProduction bool) {
	db := v.config.Database
	switch strings.ToLower(db.Driver) {
	case "sqlite", "sqlite3":
		if isProduction {
			v.addWarning("database.driver sqlite3 is meant for development")
		}
		return
	}
	if db.Password == "" {
		v.addWarning("database.password is not set")
		return
	}
	if examplePasswords[db.Password] {
		v.addError("database.password is using the example value", isProduction)
	}
}

func (v *Validator) validateMailbox(isProduction bool) {
	mb := v.config.Mailbox
	if !mb.Enabled {
		return
	}
	if !mb.Configured() {
		v.addError("mailbox.enabled is true but host, username or password is missing", isProduction)
		return
	}
	if examplePasswords[mb.Password] {
		v.addError("mailbox.password is using the example value", isProduction)
	}
	if mb.InsecureSkipVerify {
		v.addError("mailbox.insecure_skip_verify disables certificate checks", isProduction)
	}
	if len(mb.TrustedSenders) == 0 {
		v.addWarning("mailbox.trusted_senders is empty; payment notices are accepted from any sender")
	}
}

func (v *Validator) validateNotifications(isProduction bool) {
	n := v.config.Notifications
	if !n.ApplicationSubmitted {
		return
	}
	if len(n.AdminRecipients) == 0 {
		v.addWarning("notifications.application_submitted is on but admin_recipients is empty")
	}
	if v.config.Email.SMTP.Host == "" {
		v.addError("notifications.application_submitted is on but email.smtp.host is missing", isProduction)
	}
	if examplePasswords[v.config.Email.SMTP.Password] {
		v.addError("email.smtp.password is using the example value", isProduction)
	}
}

func (v *Validator) addError(message string, isProduction bool) {
	if isProduction {
		v.errors = append(v.errors, "  - "+message)
	} else {
		v.addWarning(message)
	}
}

func (v *Validator) addWarning(message string) {
	v.warnings = append(v.warnings, message)
}

// Validate runs a Validator over cfg.
func Validate(cfg *Config) error {
	return NewValidator(cfg).Validate()
}
