package filters

import (
	"bytes"
	"context"
	"log"
	"strings"

	gomail "github.com/emersion/go-message/mail"
)

// TrustedSenderFilter drops messages whose From address is not on the
// configured allowlist. An empty allowlist trusts every sender.
//
// Entries are either full addresses ("bildirim@bank.com.tr") or domains
// ("bank.com.tr" or "@bank.com.tr"); a domain also covers its subdomains.
type TrustedSenderFilter struct {
	logger    *log.Logger
	addresses map[string]struct{}
	domains   []string
}

// NewTrustedSenderFilter constructs a filter instance.
func NewTrustedSenderFilter(logger *log.Logger, senders ...string) *TrustedSenderFilter {
	f := &TrustedSenderFilter{logger: logger, addresses: make(map[string]struct{})}
	for _, s := range senders {
		s = strings.ToLower(strings.TrimSpace(s))
		switch {
		case s == "":
		case strings.HasPrefix(s, "@"):
			f.domains = append(f.domains, strings.TrimPrefix(s, "@"))
		case strings.Contains(s, "@"):
			f.addresses[s] = struct{}{}
		default:
			f.domains = append(f.domains, s)
		}
	}
	return f
}

// ID returns the filter identifier.
func (f *TrustedSenderFilter) ID() string { return "trusted_sender" }

// Apply flags untrusted messages as ignorable and records the sender.
func (f *TrustedSenderFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || !f.enabled() {
		return nil
	}
	sender := senderAddress(m.Message.Raw)
	if f.trusted(sender) {
		return nil
	}
	if sender == "" {
		sender = "(none)"
	}
	m.Annotate(AnnotationIgnoreMessage, true)
	m.Annotate(AnnotationUntrustedSender, sender)
	f.logf("trusted_sender: uid=%s from %s is not a trusted sender", m.Message.UID, sender)
	return nil
}

func (f *TrustedSenderFilter) enabled() bool {
	return f != nil && (len(f.addresses) > 0 || len(f.domains) > 0)
}

func (f *TrustedSenderFilter) trusted(addr string) bool {
	addr = strings.ToLower(addr)
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return false
	}
	if _, ok := f.addresses[addr]; ok {
		return true
	}
	domain := addr[at+1:]
	for _, d := range f.domains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}

func (f *TrustedSenderFilter) logf(format string, args ...any) {
	if f == nil || f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}

// senderAddress returns the bare From address, empty when absent or unparsable.
// Encoded display names are decoded through the registered go-message charsets.
func senderAddress(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	// Unknown charsets or encodings still return a usable reader.
	reader, _ := gomail.CreateReader(bytes.NewReader(raw))
	if reader == nil {
		return ""
	}
	list, err := reader.Header.AddressList("From")
	if err != nil || len(list) == 0 {
		return ""
	}
	return strings.TrimSpace(list[0].Address)
}
