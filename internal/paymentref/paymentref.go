// Package paymentref issues the short codes payers copy into their bank
// transfer description.
package paymentref

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// Alphabet omits I, O, 0 and 1 so codes survive being read aloud or retyped.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// Length of every issued code.
	Length = 4

	defaultMaxAttempts = 20
)

// ErrExhausted is returned when no unused code was found within the attempt budget.
var ErrExhausted = errors.New("paymentref: no unused reference found")

// Valid reports whether code has the shape of an issued reference.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// Generator produces random candidate codes.
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator draws codes from crypto/rand.
type RandomGenerator struct{}

func (RandomGenerator) Generate() (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	buf := make([]byte, Length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("paymentref: random source: %w", err)
		}
		buf[i] = Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// ExistenceChecker is satisfied by the application repository.
type ExistenceChecker interface {
	PaymentReferenceExists(ctx context.Context, ref string) (bool, error)
}

// Issuer hands out codes that no application holds yet.
type Issuer struct {
	store       ExistenceChecker
	gen         Generator
	maxAttempts int
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithGenerator swaps the code source, mostly for deterministic tests.
func WithGenerator(g Generator) Option {
	return func(i *Issuer) {
		if g != nil {
			i.gen = g
		}
	}
}

// WithMaxAttempts bounds how many candidates Issue tries before ErrExhausted.
func WithMaxAttempts(n int) Option {
	return func(i *Issuer) {
		if n > 0 {
			i.maxAttempts = n
		}
	}
}

// NewIssuer checks candidates against store, using RandomGenerator unless overridden.
func NewIssuer(store ExistenceChecker, opts ...Option) *Issuer {
	i := &Issuer{store: store, gen: RandomGenerator{}, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns an unused code. The unique column on applications still has
// the final word; a code can be taken between Issue and insert.
func (i *Issuer) Issue(ctx context.Context) (string, error) {
	for attempt := 0; attempt < i.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := i.gen.Generate()
		if err != nil {
			return "", err
		}
		exists, err := i.store.PaymentReferenceExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("paymentref: check %s: %w", code, err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// Description renders the transfer description line a payer must copy,
// using the bracketed token form.
func Description(name, label, prefix, code string) string {
	name = strings.Join(strings.Fields(name), " ")
	if prefix == "" {
		prefix = "EM"
	}
	token := fmt.Sprintf("[%s-%s]", strings.ToUpper(prefix), code)
	parts := make([]string, 0, 3)
	if name != "" {
		parts = append(parts, name)
	}
	if label != "" {
		parts = append(parts, label+" "+token)
	} else {
		parts = append(parts, token)
	}
	return strings.Join(parts, " - ")
}
