package postmaster

import (
	"context"
	"errors"

	"github.com/elitemodel/backoffice/internal/email/inbound/connector"
	"github.com/elitemodel/backoffice/internal/email/inbound/filters"
)

// Processor decides what an annotated message means for the application store.
type Processor interface {
	Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error)
}

// Result tracks what happened to a message.
type Result struct {
	ApplicationID int64
	Reference     string
	Action        string // accepted, untrusted_sender, unparsed, unknown_reference, not_pending, amount_mismatch, failed
}

// Service wires the filter chain to a processor.
type Service struct {
	FilterChain filters.Chain
	Handler     Processor
}

// Dispatch runs the filter chain then the processor and reports the processor result.
func (s Service) Dispatch(ctx context.Context, msg *connector.FetchedMessage) (Result, error) {
	if msg == nil {
		return Result{}, errors.New("postmaster: nil message")
	}
	if s.Handler == nil {
		return Result{}, errors.New("postmaster: no processor configured")
	}
	ctxMsg := &filters.MessageContext{
		Account:     msg.AccountSnapshot(),
		Message:     msg,
		Annotations: map[string]any{},
	}
	if err := s.FilterChain.Run(ctx, ctxMsg); err != nil {
		return Result{}, err
	}
	return s.Handler.Process(ctx, msg, ctxMsg)
}
