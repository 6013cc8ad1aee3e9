package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

const fetchBatchSize = 25

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// IMAPOpener opens short-lived IMAP/IMAPS sessions for the reconciliation pipeline.
type IMAPOpener struct {
	dialTimeout    time.Duration
	commandTimeout time.Duration
	now            func() time.Time
	logger         *log.Logger
	newClient      func(Account) (imapClient, error)
}

// IMAPOption customizes opener behavior.
type IMAPOption func(*IMAPOpener)

// NewIMAPOpener returns an IMAP connector with bounded dial and command timeouts.
func NewIMAPOpener(opts ...IMAPOption) *IMAPOpener {
	o := &IMAPOpener{
		dialTimeout:    10 * time.Second,
		commandTimeout: 30 * time.Second,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         log.Default(),
	}
	o.newClient = o.defaultClientFactory
	for _, opt := range opts {
		opt(o)
	}
	if o.newClient == nil {
		o.newClient = o.defaultClientFactory
	}
	return o
}

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPOption {
	return func(o *IMAPOpener) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPOption {
	return func(o *IMAPOpener) {
		if timeout > 0 {
			o.dialTimeout = timeout
		}
	}
}

// WithIMAPCommandTimeout bounds every IMAP round trip.
func WithIMAPCommandTimeout(timeout time.Duration) IMAPOption {
	return func(o *IMAPOpener) {
		if timeout > 0 {
			o.commandTimeout = timeout
		}
	}
}

func withIMAPClientFactory(factory func(Account) (imapClient, error)) IMAPOption {
	return func(o *IMAPOpener) {
		o.newClient = factory
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests.
func WithIMAPClock(now func() time.Time) IMAPOption {
	return func(o *IMAPOpener) {
		if now != nil {
			o.now = now
		}
	}
}

// Name returns the connector identifier.
func (o *IMAPOpener) Name() string {
	return "imap"
}

// Open connects, authenticates and selects the account's folder. On any
// failure the connection is closed before returning.
func (o *IMAPOpener) Open(ctx context.Context, account Account) (Session, error) {
	if err := validateIMAPAccount(account); err != nil {
		return nil, err
	}

	client, err := o.newClient(account)
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}

	s := &imapSession{
		client:         client,
		account:        account,
		mailbox:        account.Mailbox(),
		commandTimeout: o.commandTimeout,
		now:            o.now,
		logger:         o.logger,
		connector:      o.Name(),
	}
	if account.CommandTimeout > 0 {
		s.commandTimeout = account.CommandTimeout
	}

	if err := s.login(ctx); err != nil {
		s.abort()
		return nil, err
	}
	return s, nil
}

type imapSession struct {
	client         imapClient
	account        Account
	mailbox        string
	commandTimeout time.Duration
	now            func() time.Time
	logger         *log.Logger
	connector      string

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

// guard closes the connection if ctx (bounded by the command timeout) ends
// before the returned release func is called.
func (s *imapSession) guard(ctx context.Context) func() {
	cancel := context.CancelFunc(func() {})
	if s.commandTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.commandTimeout)
	}
	stop := context.AfterFunc(ctx, s.abort)
	return func() {
		stop()
		cancel()
	}
}

func (s *imapSession) login(ctx context.Context) error {
	release := s.guard(ctx)
	defer release()

	if err := s.client.Login(s.account.Username, string(s.account.Password)).Wait(); err != nil {
		return fmt.Errorf("imap auth: %w", err)
	}
	if _, err := s.client.Select(s.mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("imap select %s: %w", s.mailbox, err)
	}
	return nil
}

// FetchUnseen returns unseen messages in UID order without setting \Seen.
// Only the newest Account.FetchLimit UIDs are fetched, in batches that each
// get their own command deadline.
func (s *imapSession) FetchUnseen(ctx context.Context) ([]*FetchedMessage, error) {
	if s.isClosed() {
		return nil, errors.New("imap session closed")
	}
	uids, err := s.searchUnseen(ctx)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}
	slices.Sort(uids)
	if limit := s.account.FetchLimit(); len(uids) > limit {
		s.logf("imap: %d unseen messages in %s, fetching newest %d", len(uids), s.mailbox, limit)
		uids = uids[len(uids)-limit:]
	}

	out := make([]*FetchedMessage, 0, len(uids))
	for batch := range slices.Chunk(uids, fetchBatchSize) {
		msgs, err := s.fetchBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (s *imapSession) searchUnseen(ctx context.Context) ([]imap.UID, error) {
	release := s.guard(ctx)
	defer release()

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	return searchData.AllUIDs(), nil
}

func (s *imapSession) fetchBatch(ctx context.Context, uids []imap.UID) ([]*FetchedMessage, error) {
	release := s.guard(ctx)
	defer release()

	section := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}
	buffers, err := s.client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	sort.SliceStable(buffers, func(i, j int) bool { return buffers[i].UID < buffers[j].UID })

	out := make([]*FetchedMessage, 0, len(buffers))
	for _, buf := range buffers {
		body := buf.FindBodySection(section)
		if body == nil {
			s.logf("imap: uid %d returned no body, skipping", buf.UID)
			continue
		}
		received := buf.InternalDate
		if received.IsZero() {
			received = s.now()
		}
		uid := strconv.FormatUint(uint64(buf.UID), 10)
		msg := &FetchedMessage{
			Connector:  s.connector,
			UID:        uid,
			ReceivedAt: received,
			SizeBytes:  int64(len(body)),
			Raw:        append([]byte(nil), body...),
			Metadata: map[string]string{
				"imap_uid":    uid,
				"imap_folder": s.mailbox,
			},
		}
		msg.WithAccount(s.account)
		out = append(out, msg)
	}
	return out, nil
}

// MarkSeen adds \Seen to a single message.
func (s *imapSession) MarkSeen(ctx context.Context, msg *FetchedMessage) error {
	if msg == nil {
		return errors.New("imap mark seen: nil message")
	}
	if s.isClosed() {
		return errors.New("imap session closed")
	}
	uid, err := strconv.ParseUint(msg.UID, 10, 32)
	if err != nil || uid == 0 {
		return fmt.Errorf("imap mark seen: invalid uid %q", msg.UID)
	}

	release := s.guard(ctx)
	defer release()

	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
	if err := s.client.Store(imap.UIDSetNum(imap.UID(uid)), store, nil).Close(); err != nil {
		return fmt.Errorf("imap store seen %s: %w", msg.UID, err)
	}
	return nil
}

// Close logs out and releases the connection. Safe to call more than once.
func (s *imapSession) Close() error {
	if !s.isClosed() {
		done := make(chan error, 1)
		go func() { done <- s.client.Logout().Wait() }()
		select {
		case err := <-done:
			if err != nil {
				s.logf("imap logout error: %v", err)
			}
		case <-time.After(s.logoutTimeout()):
			s.logf("imap logout timed out")
		}
	}
	s.abort()
	return s.closeErr
}

func (s *imapSession) logoutTimeout() time.Duration {
	if s.commandTimeout > 0 && s.commandTimeout < 5*time.Second {
		return s.commandTimeout
	}
	return 5 * time.Second
}

func (s *imapSession) abort() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if err := s.client.Close(); err != nil {
			s.closeErr = err
			s.logf("imap close error: %v", err)
		}
	})
}

func (s *imapSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *imapSession) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func (o *IMAPOpener) defaultClientFactory(account Account) (imapClient, error) {
	if account.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	port := account.Port
	if port == 0 {
		if account.TLS {
			port = 993
		} else {
			port = 143
		}
	}
	dialTimeout := o.dialTimeout
	if account.DialTimeout > 0 {
		dialTimeout = account.DialTimeout
	}
	opts := &imapclient.Options{
		Dialer: &net.Dialer{Timeout: dialTimeout},
		TLSConfig: &tls.Config{
			ServerName:         account.Host,
			InsecureSkipVerify: account.InsecureSkipVerify, //nolint:gosec // opt-in per mailbox config
			MinVersion:         tls.VersionTLS12,
		},
	}
	if account.InsecureSkipVerify && o.logger != nil {
		o.logger.Printf("imap: certificate verification disabled for %s", account.Host)
	}
	addr := net.JoinHostPort(account.Host, strconv.Itoa(port))
	var client *imapclient.Client
	var err error
	if account.TLS {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}

func validateIMAPAccount(account Account) error {
	if account.Username == "" {
		return errors.New("imap account missing username")
	}
	if len(account.Password) == 0 {
		return errors.New("imap account missing password")
	}
	return nil
}
