package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/elitemodel/backoffice/internal/email/inbound/connector"
	"github.com/elitemodel/backoffice/internal/email/inbound/filters"
	"github.com/elitemodel/backoffice/internal/email/inbound/postmaster"
	"github.com/elitemodel/backoffice/internal/models"
	"github.com/elitemodel/backoffice/internal/repository"
)

// AmountTolerance is the exclusive bound on |fee - paid| for a payment to count.
var AmountTolerance = decimal.NewFromInt(1)

// matcher turns an annotated message into an application state change.
// It is built per pass so the fee it compares against is always fresh.
type matcher struct {
	store  ApplicationStore
	fee    decimal.Decimal
	logger *log.Logger
	now    func() time.Time
	loc    *time.Location
}

var _ postmaster.Processor = (*matcher)(nil)

func (m *matcher) Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (postmaster.Result, error) {
	var assertion *models.PaymentAssertion
	if meta != nil {
		if _, untrusted := meta.Annotations[filters.AnnotationUntrustedSender]; untrusted {
			return postmaster.Result{Action: string(OutcomeUntrustedSender)}, nil
		}
		assertion, _ = meta.Annotations[filters.AnnotationPaymentAssertion].(*models.PaymentAssertion)
	}
	if assertion == nil {
		return postmaster.Result{Action: string(OutcomeUnparsed)}, nil
	}

	ref := assertion.ReferenceCode
	res := postmaster.Result{Reference: ref}

	app, err := m.store.GetByPaymentReference(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		m.logger.Printf("reconcile: uid=%s ref=%s matches no application", msg.UID, ref)
		res.Action = string(OutcomeUnknownReference)
		return res, nil
	}
	if err != nil {
		res.Action = string(OutcomeFailed)
		return res, fmt.Errorf("lookup %s: %w", ref, err)
	}
	res.ApplicationID = app.ID

	if !app.IsPending() {
		res.Action = string(OutcomeNotPending)
		return res, nil
	}

	if !withinTolerance(m.fee, assertion.Amount) {
		m.logger.Printf("reconcile: ref=%s amount %s does not match fee %s",
			ref, assertion.Amount.StringFixed(2), m.fee.StringFixed(2))
		res.Action = string(OutcomeAmountMismatch)
		return res, nil
	}

	if !nameMatches(app.FullName, assertion.SenderName) {
		m.logger.Printf("reconcile: ref=%s sender %q does not contain applicant %q, accepting anyway",
			ref, assertion.SenderName, app.FullName)
	}

	changed, err := m.store.AcceptPayment(ctx, app.ID, assertion.Amount, m.auditLine(assertion))
	if err != nil {
		res.Action = string(OutcomeFailed)
		return res, fmt.Errorf("accept %s: %w", ref, err)
	}
	if !changed {
		// Lost the race to a concurrent pass.
		res.Action = string(OutcomeNotPending)
		return res, nil
	}

	m.logger.Printf("reconcile: application %d accepted ref=%s amount=%s", app.ID, ref, assertion.Amount.StringFixed(2))
	res.Action = string(OutcomeAccepted)
	return res, nil
}

func (m *matcher) auditLine(a *models.PaymentAssertion) string {
	return fmt.Sprintf("[%s] Payment verified from bank notification: ref %s, sender %s, amount %s TL",
		m.now().In(m.loc).Format("2006-01-02 15:04"), a.ReferenceCode, a.SenderName, filters.FormatAmount(a.Amount))
}

func withinTolerance(fee, paid decimal.Decimal) bool {
	return fee.Sub(paid).Abs().LessThan(AmountTolerance)
}

// nameMatches reports whether the applicant's name appears in the sender
// name, comparing with Turkish case rules so İ and I fold correctly. Banks
// often transliterate (AYSE for AYŞE), so a close spelling also counts.
func nameMatches(applicant, sender string) bool {
	a := foldName(applicant)
	if a == "" {
		return true
	}
	s := foldName(sender)
	return strings.Contains(s, a) || nearMatch(a, s)
}

// nameDistanceRatio bounds edit distance relative to the longer name.
const nameDistanceRatio = 0.25

// nearMatch slides a window of the applicant's word count over the sender words.
func nearMatch(applicant, sender string) bool {
	want := len(strings.Fields(applicant))
	words := strings.Fields(sender)
	for i := 0; i+want <= len(words); i++ {
		candidate := strings.Join(words[i:i+want], " ")
		longest := max(utf8.RuneCountInString(applicant), utf8.RuneCountInString(candidate))
		dist := levenshtein.ComputeDistance(applicant, candidate)
		if float64(dist)/float64(longest) <= nameDistanceRatio {
			return true
		}
	}
	return false
}

func foldName(s string) string {
	// Casers carry state and must not be shared across goroutines.
	return strings.Join(strings.Fields(cases.Lower(language.Turkish).String(s)), " ")
}
