package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/require"
)

func testAccount() Account {
	return Account{Host: "mail.example", Username: "payments", Password: []byte("secret"), TLS: true}
}

func openWith(t *testing.T, client *fakeIMAPClient, opts ...IMAPOption) Session {
	t.Helper()
	opts = append(opts, withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	s, err := NewIMAPOpener(opts...).Open(context.Background(), testAccount())
	require.NoError(t, err)
	return s
}

func TestIMAPSessionFetchesUnseenWithoutMarking(t *testing.T) {
	client := &fakeIMAPClient{
		uids: []imap.UID{12, 11},
		bodies: map[imap.UID][]byte{
			11: []byte("first"),
			12: []byte("second"),
		},
		internalDate: map[imap.UID]time.Time{
			11: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	s := openWith(t, client, WithIMAPClock(func() time.Time { return now }))

	msgs, err := s.FetchUnseen(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.Equal(t, "INBOX", client.selected)
	require.NotNil(t, client.lastCriteria)
	require.Equal(t, []imap.Flag{imap.FlagSeen}, client.lastCriteria.NotFlag)
	require.NotNil(t, client.lastFetch)
	require.True(t, client.lastFetch.BodySection[0].Peek, "fetch must not set \\Seen")
	require.Zero(t, client.storeCalls)

	require.Equal(t, "11", msgs[0].UID)
	require.Equal(t, []byte("first"), msgs[0].Raw)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), msgs[0].ReceivedAt)
	require.Equal(t, now, msgs[1].ReceivedAt)
	require.Equal(t, "INBOX", msgs[1].Metadata["imap_folder"])
	require.Nil(t, msgs[0].AccountSnapshot().Password, "password must not travel with messages")
	require.Equal(t, "payments", msgs[0].AccountSnapshot().Username)

	require.NoError(t, s.Close())
	require.Equal(t, 1, client.logoutCalls)
	require.True(t, client.isClosed())
}

func TestIMAPSessionFetchKeepsNewestWithinLimit(t *testing.T) {
	client := &fakeIMAPClient{bodies: map[imap.UID][]byte{}}
	for uid := imap.UID(200); uid >= 1; uid-- {
		client.uids = append(client.uids, uid)
		client.bodies[uid] = []byte("body")
	}
	opts := []IMAPOption{withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil })}
	account := testAccount()
	account.MaxFetch = 60
	s, err := NewIMAPOpener(opts...).Open(context.Background(), account)
	require.NoError(t, err)
	defer s.Close()

	msgs, err := s.FetchUnseen(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 60)
	require.Equal(t, "141", msgs[0].UID)
	require.Equal(t, "200", msgs[59].UID)

	require.Equal(t, 3, client.fetchCalls, "60 messages in batches of 25")
	for _, set := range client.fetchSets {
		nums, ok := set.Nums()
		require.True(t, ok)
		require.LessOrEqual(t, len(nums), fetchBatchSize)
	}
}

func TestAccountFetchLimitDefault(t *testing.T) {
	require.Equal(t, DefaultMaxFetch, Account{}.FetchLimit())
	require.Equal(t, DefaultMaxFetch, Account{MaxFetch: -1}.FetchLimit())
	require.Equal(t, 5, Account{MaxFetch: 5}.FetchLimit())
}

func TestIMAPSessionMarkSeenStoresFlag(t *testing.T) {
	client := &fakeIMAPClient{uids: []imap.UID{7}, bodies: map[imap.UID][]byte{7: []byte("x")}}
	s := openWith(t, client)
	defer s.Close()

	msgs, err := s.FetchUnseen(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.MarkSeen(context.Background(), msgs[0]))

	require.Equal(t, 1, client.storeCalls)
	require.Equal(t, imap.StoreFlagsAdd, client.lastStore.Op)
	require.Equal(t, []imap.Flag{imap.FlagSeen}, client.lastStore.Flags)
	require.Equal(t, imap.UIDSetNum(7), client.lastStoreSet)
}

func TestIMAPSessionMarkSeenErrors(t *testing.T) {
	client := &fakeIMAPClient{storeErr: errors.New("read-only mailbox")}
	s := openWith(t, client)
	defer s.Close()

	err := s.MarkSeen(context.Background(), &FetchedMessage{UID: "9"})
	require.ErrorContains(t, err, "imap store seen")

	err = s.MarkSeen(context.Background(), &FetchedMessage{UID: "abc"})
	require.ErrorContains(t, err, "invalid uid")

	require.Error(t, s.MarkSeen(context.Background(), nil))
}

func TestIMAPSessionEmptyMailbox(t *testing.T) {
	client := &fakeIMAPClient{}
	s := openWith(t, client)
	defer s.Close()

	msgs, err := s.FetchUnseen(context.Background())
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Zero(t, client.fetchCalls)
}

func TestIMAPSessionSearchAndFetchErrors(t *testing.T) {
	s := openWith(t, &fakeIMAPClient{searchErr: errors.New("boom")})
	_, err := s.FetchUnseen(context.Background())
	require.ErrorContains(t, err, "imap search")
	require.NoError(t, s.Close())

	s = openWith(t, &fakeIMAPClient{uids: []imap.UID{1}, fetchErr: errors.New("boom")})
	_, err = s.FetchUnseen(context.Background())
	require.ErrorContains(t, err, "imap fetch")
	require.NoError(t, s.Close())
}

func TestIMAPOpenValidation(t *testing.T) {
	cases := []Account{
		{Host: "h", Password: []byte("pw")},
		{Host: "h", Username: "user"},
	}
	o := NewIMAPOpener(withIMAPClientFactory(func(Account) (imapClient, error) {
		t.Fatalf("client must not be created for invalid accounts")
		return nil, nil
	}))
	for _, acc := range cases {
		if _, err := o.Open(context.Background(), acc); err == nil {
			t.Fatalf("expected validation error for account %+v", acc)
		}
	}
}

func TestIMAPOpenAuthAndSelectErrorsCloseConnection(t *testing.T) {
	client := &fakeIMAPClient{loginErr: errors.New("bad creds")}
	o := NewIMAPOpener(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	_, err := o.Open(context.Background(), testAccount())
	require.ErrorContains(t, err, "imap auth")
	require.True(t, client.isClosed())

	client = &fakeIMAPClient{selectErr: errors.New("no inbox")}
	o = NewIMAPOpener(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	_, err = o.Open(context.Background(), testAccount())
	require.ErrorContains(t, err, "imap select INBOX")
	require.True(t, client.isClosed())
}

func TestIMAPOpenConnectErrorWrapped(t *testing.T) {
	o := NewIMAPOpener(withIMAPClientFactory(func(Account) (imapClient, error) {
		return nil, errors.New("dial failed")
	}))
	_, err := o.Open(context.Background(), testAccount())
	require.ErrorContains(t, err, "imap connect")
}

func TestIMAPSessionCommandTimeoutClosesConnection(t *testing.T) {
	client := &fakeIMAPClient{searchBlock: make(chan struct{})}
	s := openWith(t, client, WithIMAPCommandTimeout(20*time.Millisecond))

	_, err := s.FetchUnseen(context.Background())
	require.Error(t, err)
	require.True(t, client.isClosed())

	_, err = s.FetchUnseen(context.Background())
	require.ErrorContains(t, err, "closed")
	require.NoError(t, s.Close())
	require.Zero(t, client.logoutCalls, "no logout on an aborted connection")
}

func TestIMAPSessionCloseIsIdempotent(t *testing.T) {
	client := &fakeIMAPClient{}
	s := openWith(t, client)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, client.logoutCalls)
	require.Equal(t, 1, client.closeCalls)
}

func TestAccountMailboxDefault(t *testing.T) {
	require.Equal(t, "INBOX", Account{}.Mailbox())
	require.Equal(t, "Bank", Account{Folder: "Bank"}.Mailbox())
}

type fakeIMAPClient struct {
	uids         []imap.UID
	bodies       map[imap.UID][]byte
	internalDate map[imap.UID]time.Time

	loginErr  error
	selectErr error
	searchErr error
	fetchErr  error
	storeErr  error
	logoutErr error

	// searchBlock makes UIDSearch hang until the connection is closed.
	searchBlock chan struct{}

	mu           sync.Mutex
	selected     string
	lastCriteria *imap.SearchCriteria
	lastFetch    *imap.FetchOptions
	lastStore    *imap.StoreFlags
	lastStoreSet imap.NumSet
	fetchSets    []imap.UIDSet
	fetchCalls   int
	storeCalls   int
	logoutCalls  int
	closeCalls   int
	closed       bool
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }
func (c *fakeIMAPClient) Logout() commandWaiter {
	c.mu.Lock()
	c.logoutCalls++
	c.mu.Unlock()
	return &fakeCommand{err: c.logoutErr}
}
func (c *fakeIMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.closed && c.searchBlock != nil {
		close(c.searchBlock)
	}
	c.closed = true
	return nil
}
func (c *fakeIMAPClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
func (c *fakeIMAPClient) Select(mailbox string, _ *imap.SelectOptions) selectWaiter {
	c.selected = mailbox
	return &fakeSelect{err: c.selectErr}
}
func (c *fakeIMAPClient) UIDSearch(criteria *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	c.lastCriteria = criteria
	if c.searchBlock != nil {
		return &fakeSearch{block: c.searchBlock, err: errors.New("connection closed")}
	}
	data := &imap.SearchData{All: imap.UIDSetNum(c.uids...)}
	return &fakeSearch{err: c.searchErr, data: data}
}
func (c *fakeIMAPClient) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	c.fetchCalls++
	c.lastFetch = options
	set, _ := numSet.(imap.UIDSet)
	c.fetchSets = append(c.fetchSets, set)
	var bufs []*imapclient.FetchMessageBuffer
	if c.fetchErr == nil {
		for _, uid := range c.uids {
			if set != nil && !set.Contains(uid) {
				continue
			}
			bufs = append(bufs, &imapclient.FetchMessageBuffer{
				SeqNum:       uint32(uid),
				UID:          uid,
				InternalDate: c.internalDate[uid],
				BodySection: []imapclient.FetchBodySectionBuffer{{
					Section: &imap.FetchItemBodySection{},
					Bytes:   append([]byte(nil), c.bodies[uid]...),
				}},
			})
		}
	}
	return &fakeFetch{err: c.fetchErr, bufs: bufs}
}
func (c *fakeIMAPClient) Store(numSet imap.NumSet, store *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	c.storeCalls++
	c.lastStore = store
	c.lastStoreSet = numSet
	return &fakeFetch{err: c.storeErr}
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct{ err error }

func (s *fakeSelect) Wait() (*imap.SelectData, error) { return nil, s.err }

type fakeSearch struct {
	err   error
	data  *imap.SearchData
	block chan struct{}
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) {
	if s.block != nil {
		<-s.block
	}
	return s.data, s.err
}

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }
