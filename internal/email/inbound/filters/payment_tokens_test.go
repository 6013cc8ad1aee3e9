package filters

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elitemodel/backoffice/internal/email/inbound/connector"
	"github.com/elitemodel/backoffice/internal/models"
)

func TestParsePaymentAssertionExactMatch(t *testing.T) {
	body := "Açıklama: Ayşe Yılmaz - Elite Model Başvuru Ücreti - A1B2\nTutar: 1.500,00 TL"

	got, ok := ParsePaymentAssertion(body)
	require.True(t, ok)
	assert.Equal(t, "Ayşe Yılmaz", got.SenderName)
	assert.Equal(t, "A1B2", got.ReferenceCode)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("1500.00")), "amount %s", got.Amount)
	assert.Equal(t, models.AssertionLegacy, got.Format)
}

func TestParsePaymentAssertionVariants(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		sender string
		code   string
		amount string
	}{
		{
			name:   "en dash separators",
			body:   "Açıklama: Zeynep Kaya – Elite Model Başvuru Ücreti – K9X2\n2.000,00",
			sender: "Zeynep Kaya", code: "K9X2", amount: "2000",
		},
		{
			name:   "non-breaking spaces",
			body:   "Açıklama:\u00a0Zeynep\u00a0Kaya\u00a0-\u00a0Elite Model\u00a0-\u00a0K9X2 Tutar 2.000,00",
			sender: "Zeynep Kaya", code: "K9X2", amount: "2000",
		},
		{
			name:   "no label",
			body:   "Zeynep Kaya - Elite Model Başvuru Ücreti - K9X2 tutarı 2000,00 TL",
			sender: "Zeynep Kaya", code: "K9X2", amount: "2000",
		},
		{
			name:   "name wraps across lines",
			body:   "Açıklama: Ayşe\nYılmaz - Elite Model Başvuru Ücreti - A1B2\n1.500,00",
			sender: "Ayşe Yılmaz", code: "A1B2", amount: "1500",
		},
		{
			name:   "label wins over preceding letters-only line",
			body:   "Havale Bildirimi\nAçıklama: Ayşe Yılmaz - Elite - A1B2\n1.500,00",
			sender: "Ayşe Yılmaz", code: "A1B2", amount: "1500",
		},
		{
			name:   "first match wins",
			body:   "Açıklama: Ayşe Yılmaz - Elite - A1B2\nAçıklama: Zeynep Kaya - Elite - K9X2\n1.500,00 ve 2.000,00",
			sender: "Ayşe Yılmaz", code: "A1B2", amount: "1500",
		},
		{
			name:   "large amount with several groups",
			body:   "Açıklama: Ayşe Yılmaz - Elite - A1B2\n1.250.000,50",
			sender: "Ayşe Yılmaz", code: "A1B2", amount: "1250000.50",
		},
		{
			name:   "bracketed token",
			body:   "Açıklama: Zeynep Kaya - Elite Model Başvuru Ücreti [EM-K9X2]\nTutar: 2.000,00 TL",
			sender: "Zeynep Kaya", code: "K9X2", amount: "2000",
		},
		{
			name:   "bracketed token preferred over legacy triple",
			body:   "Zeynep Kaya - Elite Model Başvuru Ücreti - K9X2 [EM-H7WQ]\n2.000,00",
			sender: "Zeynep Kaya", code: "H7WQ", amount: "2000",
		},
		{
			name:   "currency suffix without space",
			body:   "Açıklama: Ayşe Yılmaz - Elite - A1B2\nTutar: 1.500,00TL",
			sender: "Ayşe Yılmaz", code: "A1B2", amount: "1500",
		},
		{
			name:   "currency prefix without space",
			body:   "Açıklama: Ayşe Yılmaz - Elite - A1B2\nTutar: TRY1.500,00",
			sender: "Ayşe Yılmaz", code: "A1B2", amount: "1500",
		},
		{
			name:   "amount at start of body",
			body:   "2.000,00 TL\nAçıklama: Zeynep Kaya - Elite - K9X2",
			sender: "Zeynep Kaya", code: "K9X2", amount: "2000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePaymentAssertion(tt.body)
			require.True(t, ok, "expected an assertion")
			assert.Equal(t, tt.sender, got.SenderName)
			assert.Equal(t, tt.code, got.ReferenceCode)
			assert.True(t, got.Amount.Equal(decimal.RequireFromString(tt.amount)), "amount %s", got.Amount)
		})
	}
}

func TestParsePaymentAssertionRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty", body: ""},
		{name: "no dash triple", body: "Ayşe Yılmaz ödeme yaptı A1B2\n1.500,00"},
		{name: "one decimal digit", body: "Açıklama: Ayşe Yılmaz - Elite - A1B2\n1500,0"},
		{name: "no amount", body: "Açıklama: Ayşe Yılmaz - Elite - A1B2"},
		{name: "lowercase code", body: "Açıklama: Ayşe Yılmaz - Elite - a1b2\n1.500,00"},
		{name: "code too long", body: "Açıklama: Ayşe Yılmaz - Elite - A1B2C\n1.500,00"},
		{name: "digits in name", body: "Açıklama: Ayşe 2 - Elite - A1B2\n1.500,00"},
		{name: "bracket without name", body: "[EM-K9X2]\n2.000,00"},
		{name: "three decimals", body: "Açıklama: Ayşe Yılmaz - Elite - A1B2\n1500,000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePaymentAssertion(tt.body)
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}
}

func TestAssertionParserCustomPrefix(t *testing.T) {
	p := NewAssertionParser("elx")
	got, ok := p.Parse("Ayşe Yılmaz - Başvuru [ELX-A1B2]\n1.500,00")
	require.True(t, ok)
	assert.Equal(t, "A1B2", got.ReferenceCode)
	assert.Equal(t, models.AssertionBracketed, got.Format)

	_, ok = p.Parse("Ayşe Yılmaz - Başvuru [EM-A1B2]\n1.500,00")
	assert.False(t, ok, "other prefixes are not tokens")
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.500,00", FormatAmount(decimal.RequireFromString("1500")))
	assert.Equal(t, "2.000.000,50", FormatAmount(decimal.RequireFromString("2000000.5")))
	assert.Equal(t, "999,99", FormatAmount(decimal.RequireFromString("999.99")))
	assert.Equal(t, "-12,30", FormatAmount(decimal.RequireFromString("-12.3")))

	got, ok := ParsePaymentAssertion("Açıklama: Ayşe Yılmaz - Elite - A1B2\n" + FormatAmount(decimal.RequireFromString("1500")))
	require.True(t, ok)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("1500")))
}

func TestPaymentAssertionFilter(t *testing.T) {
	f := NewPaymentAssertionFilter(nil, nil)

	m := &MessageContext{
		Message:     &connector.FetchedMessage{UID: "3"},
		Annotations: map[string]any{AnnotationBodyText: "Açıklama: Ayşe Yılmaz - Elite - A1B2\n1.500,00"},
	}
	require.NoError(t, f.Apply(context.Background(), m))
	assertion, ok := m.Annotations[AnnotationPaymentAssertion].(*models.PaymentAssertion)
	require.True(t, ok)
	assert.Equal(t, "A1B2", assertion.ReferenceCode)
	assert.NotContains(t, m.Annotations, AnnotationIgnoreMessage)

	m = &MessageContext{Message: &connector.FetchedMessage{UID: "4"}}
	require.NoError(t, f.Apply(context.Background(), m))
	assert.Equal(t, true, m.Annotations[AnnotationIgnoreMessage])
	assert.NotContains(t, m.Annotations, AnnotationPaymentAssertion)
}

func TestChainRunsFiltersInOrder(t *testing.T) {
	raw := "Subject: Havale\r\n\r\nAçıklama: Zeynep Kaya - Elite Model Başvuru Ücreti - K9X2\r\nTutar: 2.000,00 TL\r\n"
	chain := NewChain(NewBodyTextFilter(nil), NewPaymentAssertionFilter(nil, nil))
	m := &MessageContext{Message: &connector.FetchedMessage{Raw: []byte(raw)}}

	require.NoError(t, chain.Run(context.Background(), m))
	assertion, ok := m.Annotations[AnnotationPaymentAssertion].(*models.PaymentAssertion)
	require.True(t, ok)
	assert.Equal(t, "Zeynep Kaya", assertion.SenderName)
	assert.True(t, assertion.Amount.Equal(decimal.NewFromInt(2000)))
}
