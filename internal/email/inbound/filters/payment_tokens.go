package filters

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/elitemodel/backoffice/internal/models"
)

// DefaultTokenPrefix is the prefix of the bracketed reference token, as in [EM-K9X2].
const DefaultTokenPrefix = "EM"

const descriptionLabel = `(?:Açıklama|AÇIKLAMA|Aciklama|ACIKLAMA)[ \t]*:[ \t]*`

var (
	// <name> - <free text> - <CODE>, with the label required or absent.
	labeledAssertionRegexp = regexp.MustCompile(descriptionLabel +
		`(\p{L}[\p{L} \t\r\n]*?)[ \t]*[-–][ \t]*[^-–\[\]\r\n]*?[ \t]*[-–][ \t]*([A-Z0-9]{4})\b`)
	bareAssertionRegexp = regexp.MustCompile(
		`(\p{L}[\p{L} \t\r\n]*?)[ \t]*[-–][ \t]*[^-–\[\]\r\n]*?[ \t]*[-–][ \t]*([A-Z0-9]{4})\b`)

	labelPrefixRegexp = regexp.MustCompile(`^[ \t]*` + descriptionLabel)
	leadingNameRegexp = regexp.MustCompile(`^\p{L}[\p{L} ]*`)

	// A currency code may touch the amount, as in 1.500,00TL or TRY1.500,00.
	amountRegexp = regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3}(?:\.\d{3})+|\d+),(\d{2})(?:\D|$)`)

	spaceReplacer = strings.NewReplacer("\u00a0", " ", "\u202f", " ", "\u2007", " ")
)

// AssertionParser extracts payment assertions from bank notification text.
type AssertionParser struct {
	tokenRegexp *regexp.Regexp
}

// NewAssertionParser builds a parser for bracketed tokens with the given prefix.
// An empty prefix falls back to DefaultTokenPrefix.
func NewAssertionParser(tokenPrefix string) *AssertionParser {
	tokenPrefix = strings.ToUpper(strings.TrimSpace(tokenPrefix))
	if tokenPrefix == "" {
		tokenPrefix = DefaultTokenPrefix
	}
	return &AssertionParser{
		tokenRegexp: regexp.MustCompile(`\[[ \t]*` + regexp.QuoteMeta(tokenPrefix) + `-([A-Z0-9]{4})[ \t]*\]`),
	}
}

var defaultParser = NewAssertionParser(DefaultTokenPrefix)

// ParsePaymentAssertion parses body with the default token prefix.
func ParsePaymentAssertion(body string) (*models.PaymentAssertion, bool) {
	return defaultParser.Parse(body)
}

// Parse returns the first assertion found in body. Reference, name and amount
// must all be present, otherwise ok is false.
func (p *AssertionParser) Parse(body string) (*models.PaymentAssertion, bool) {
	body = spaceReplacer.Replace(body)
	if strings.TrimSpace(body) == "" {
		return nil, false
	}
	amount, ok := parseAmount(body)
	if !ok {
		return nil, false
	}
	if name, code, ok := p.findBracketed(body); ok {
		return &models.PaymentAssertion{
			SenderName:    name,
			ReferenceCode: code,
			Amount:        amount,
			Format:        models.AssertionBracketed,
		}, true
	}
	if name, code, ok := findLegacy(body); ok {
		return &models.PaymentAssertion{
			SenderName:    name,
			ReferenceCode: code,
			Amount:        amount,
			Format:        models.AssertionLegacy,
		}, true
	}
	return nil, false
}

func (p *AssertionParser) findBracketed(body string) (string, string, bool) {
	loc := p.tokenRegexp.FindStringSubmatchIndex(body)
	if loc == nil {
		return "", "", false
	}
	code := strings.TrimSpace(body[loc[2]:loc[3]])
	lineStart := strings.LastIndex(body[:loc[0]], "\n") + 1
	line := labelPrefixRegexp.ReplaceAllString(body[lineStart:loc[0]], "")
	name := normalizeName(leadingNameRegexp.FindString(strings.TrimSpace(line)))
	if name == "" || code == "" {
		return "", "", false
	}
	return name, code, true
}

func findLegacy(body string) (string, string, bool) {
	m := labeledAssertionRegexp.FindStringSubmatch(body)
	if m == nil {
		m = bareAssertionRegexp.FindStringSubmatch(body)
	}
	if m == nil {
		return "", "", false
	}
	name := normalizeName(m[1])
	code := strings.TrimSpace(m[2])
	if name == "" || code == "" {
		return "", "", false
	}
	return name, code, true
}

// normalizeName removes line breaks and collapses runs of whitespace.
func normalizeName(in string) string {
	return strings.Join(strings.Fields(in), " ")
}

func parseAmount(body string) (decimal.Decimal, bool) {
	m := amountRegexp.FindStringSubmatch(body)
	if m == nil {
		return decimal.Decimal{}, false
	}
	whole := strings.ReplaceAll(m[1], ".", "")
	amount, err := decimal.NewFromString(whole + "." + m[2])
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amount, true
}

// FormatAmount renders an amount the way bank notifications print it, e.g. 1.500,00.
func FormatAmount(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return sign + b.String() + "," + frac
}
