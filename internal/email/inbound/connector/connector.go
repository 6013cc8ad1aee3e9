package connector

import (
	"context"
	"time"
)

// Account carries the minimal set of fields a connector needs to open a mailbox.
type Account struct {
	Host               string
	Port               int
	Username           string
	Password           []byte
	Folder             string
	TLS                bool
	InsecureSkipVerify bool
	DialTimeout        time.Duration
	CommandTimeout     time.Duration
	// MaxFetch caps the unseen messages read per pass; the newest are kept.
	MaxFetch           int
}

// DefaultMaxFetch applies when Account.MaxFetch is not positive.
const DefaultMaxFetch = 100

// FetchLimit returns MaxFetch or DefaultMaxFetch.
func (a Account) FetchLimit() int {
	if a.MaxFetch > 0 {
		return a.MaxFetch
	}
	return DefaultMaxFetch
}

// Mailbox returns the folder to select, defaulting to INBOX.
func (a Account) Mailbox() string {
	if a.Folder == "" {
		return "INBOX"
	}
	return a.Folder
}

// FetchedMessage wraps the on-wire RFC822 payload plus derived metadata.
type FetchedMessage struct {
	Connector  string
	UID        string
	ReceivedAt time.Time
	SizeBytes  int64
	Raw        []byte
	Metadata   map[string]string
	account    Account
}

// AccountSnapshot returns the account metadata captured when the fetch occurred.
func (m FetchedMessage) AccountSnapshot() Account {
	return m.account
}

// WithAccount captures the account metadata on the message.
func (m *FetchedMessage) WithAccount(acc Account) {
	acc.Password = nil
	m.account = acc
}

// Session is one authenticated mailbox connection. Fetching never changes
// message flags; MarkSeen is the only mutation.
type Session interface {
	FetchUnseen(ctx context.Context) ([]*FetchedMessage, error)
	MarkSeen(ctx context.Context, msg *FetchedMessage) error
	Close() error
}

// Opener establishes a fresh session per call.
type Opener interface {
	Name() string
	Open(ctx context.Context, account Account) (Session, error)
}
