package postmaster

import (
	"context"
	"errors"
	"testing"

	"github.com/elitemodel/backoffice/internal/email/inbound/connector"
	"github.com/elitemodel/backoffice/internal/email/inbound/filters"
)

type stubProcessor struct {
	meta *filters.MessageContext
	msg  *connector.FetchedMessage
	err  error
}

func (s *stubProcessor) Process(_ context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error) {
	s.meta = meta
	s.msg = msg
	return Result{Action: "accepted", Reference: "K9X2"}, s.err
}

type stubFilter struct {
	err error
}

func (f stubFilter) ID() string { return "stub" }

func (f stubFilter) Apply(_ context.Context, m *filters.MessageContext) error {
	if f.err != nil {
		return f.err
	}
	m.Annotations["seen"] = true
	return nil
}

func TestServiceDispatchRunsChainAndProcessor(t *testing.T) {
	proc := &stubProcessor{}
	svc := Service{
		FilterChain: filters.NewChain(stubFilter{}),
		Handler:     proc,
	}
	msg := &connector.FetchedMessage{UID: "1", Raw: []byte("Subject: hi\r\n\r\nBody")}
	msg.WithAccount(connector.Account{Username: "payments", Password: []byte("secret")})

	res, err := svc.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if res.Action != "accepted" || res.Reference != "K9X2" {
		t.Fatalf("unexpected result %+v", res)
	}
	if proc.meta == nil || proc.msg == nil {
		t.Fatalf("expected processor to receive inputs")
	}
	if !proc.meta.Annotations["seen"].(bool) {
		t.Fatalf("expected filter to annotate context")
	}
	if proc.meta.Account.Username != "payments" {
		t.Fatalf("expected account snapshot to propagate")
	}
}

func TestServiceDispatchPropagatesFilterError(t *testing.T) {
	proc := &stubProcessor{}
	svc := Service{
		FilterChain: filters.NewChain(stubFilter{err: errors.New("fail")}),
		Handler:     proc,
	}
	msg := &connector.FetchedMessage{Raw: []byte("Subject: hi\r\n\r\nBody")}
	if _, err := svc.Dispatch(context.Background(), msg); err == nil {
		t.Fatalf("expected filter error to propagate")
	}
	if proc.msg != nil {
		t.Fatalf("processor must not run after a filter error")
	}
}

func TestServiceDispatchReturnsProcessorError(t *testing.T) {
	svc := Service{Handler: &stubProcessor{err: errors.New("store down")}}
	if _, err := svc.Dispatch(context.Background(), &connector.FetchedMessage{}); err == nil {
		t.Fatalf("expected processor error")
	}
}

func TestServiceDispatchGuards(t *testing.T) {
	if _, err := (Service{}).Dispatch(context.Background(), &connector.FetchedMessage{}); err == nil {
		t.Fatalf("expected missing processor error")
	}
	if _, err := (Service{Handler: &stubProcessor{}}).Dispatch(context.Background(), nil); err == nil {
		t.Fatalf("expected nil message error")
	}
}
