package models

import "github.com/shopspring/decimal"

// AssertionFormat identifies which description layout a payment assertion was read from.
type AssertionFormat string

const (
	AssertionLegacy    AssertionFormat = "legacy"
	AssertionBracketed AssertionFormat = "bracketed"
)

// PaymentAssertion is what one bank notification claims: who paid, for which
// reference, and how much. It is derived from a message and never persisted.
type PaymentAssertion struct {
	SenderName    string          `json:"sender_name"`
	ReferenceCode string          `json:"reference_code"`
	Amount        decimal.Decimal `json:"amount"`
	Format        AssertionFormat `json:"format"`
}
