package filters

import (
	"context"
	"log"
)

// PaymentAssertionFilter turns the annotated body text into a payment assertion.
// Messages that do not parse are flagged as ignorable, never as errors.
type PaymentAssertionFilter struct {
	logger *log.Logger
	parser *AssertionParser
}

// NewPaymentAssertionFilter constructs the assertion extractor.
func NewPaymentAssertionFilter(logger *log.Logger, parser *AssertionParser) *PaymentAssertionFilter {
	if parser == nil {
		parser = defaultParser
	}
	return &PaymentAssertionFilter{logger: logger, parser: parser}
}

// ID implements Filter.
func (f *PaymentAssertionFilter) ID() string { return "payment_assertion" }

// Apply parses the body text annotation.
func (f *PaymentAssertionFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil {
		return nil
	}
	if ignored, _ := m.Annotations[AnnotationIgnoreMessage].(bool); ignored {
		return nil
	}
	body, _ := m.Annotations[AnnotationBodyText].(string)
	assertion, ok := f.parser.Parse(body)
	if !ok {
		m.Annotate(AnnotationIgnoreMessage, true)
		return nil
	}
	m.Annotate(AnnotationPaymentAssertion, assertion)
	if f.logger != nil {
		uid := ""
		if m.Message != nil {
			uid = m.Message.UID
		}
		f.logger.Printf("payment_assertion: uid=%s ref=%s amount=%s format=%s", uid, assertion.ReferenceCode, assertion.Amount.StringFixed(2), assertion.Format)
	}
	return nil
}
