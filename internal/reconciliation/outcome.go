package reconciliation

import "errors"

// Outcome classifies what a reconciliation pass did with one message.
type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeUnparsed         Outcome = "unparsed"
	OutcomeUntrustedSender  Outcome = "untrusted_sender"
	OutcomeUnknownReference Outcome = "unknown_reference"
	OutcomeNotPending       Outcome = "not_pending"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeFailed           Outcome = "failed"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{
	OutcomeAccepted,
	OutcomeUnparsed,
	OutcomeUntrustedSender,
	OutcomeUnknownReference,
	OutcomeNotPending,
	OutcomeAmountMismatch,
	OutcomeFailed,
}

// settled reports whether no later pass can accept the message.
func (o Outcome) settled() bool {
	switch o {
	case OutcomeUntrustedSender, OutcomeUnparsed, OutcomeNotPending:
		return true
	}
	return false
}

var (
	// ErrRunInProgress means another pass holds the run guard.
	ErrRunInProgress = errors.New("reconciliation already running")
	// ErrReconciliationDisabled means the mailbox integration is switched off or unconfigured.
	ErrReconciliationDisabled = errors.New("payment reconciliation is disabled")
	// ErrMailbox wraps connection-level mailbox failures.
	ErrMailbox = errors.New("mailbox unavailable")
)
