package filters

import (
	"bytes"
	"context"
	"errors"
	"html"
	"io"
	"log"
	"regexp"
	"strings"

	_ "github.com/emersion/go-message/charset" // windows-1254, iso-8859-9
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

const defaultBodyTextLimit = 256 * 1024

var (
	htmlLineBreakRegexp = regexp.MustCompile(`(?i)<br\s*/?>|</(?:p|div|tr|li|h[1-6]|table)>`)
	htmlCellBreakRegexp = regexp.MustCompile(`(?i)</t[dh]>`)
	strictPolicy        = bluemonday.StrictPolicy()
)

// BodyTextFilter decodes the message and annotates the readable body text.
type BodyTextFilter struct {
	logger *log.Logger
	limit  int64
}

// NewBodyTextFilter constructs the body decoder.
func NewBodyTextFilter(logger *log.Logger) *BodyTextFilter {
	return &BodyTextFilter{logger: logger, limit: defaultBodyTextLimit}
}

// ID implements Filter.
func (f *BodyTextFilter) ID() string { return "body_text" }

// Apply extracts the first text part, preferring text/plain over HTML.
func (f *BodyTextFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	if _, exists := m.Annotations[AnnotationBodyText]; exists {
		return nil
	}
	body := f.extractBody(m.Message.Raw)
	if strings.TrimSpace(body) == "" {
		return nil
	}
	m.Annotate(AnnotationBodyText, body)
	return nil
}

func (f *BodyTextFilter) extractBody(raw []byte) string {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		f.logf("body_text: parse failed: %v", err)
		return f.truncate(string(raw))
	}
	var plain, htmlText string
	for {
		part, perr := reader.NextPart()
		if errors.Is(perr, io.EOF) {
			break
		}
		if perr != nil {
			f.logf("body_text: read part failed: %v", perr)
			break
		}
		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		body, mimeType := f.readInlineBody(part, inline)
		if body == "" {
			continue
		}
		if strings.HasPrefix(mimeType, "text/plain") && plain == "" {
			plain = body
		}
		if strings.HasPrefix(mimeType, "text/html") && htmlText == "" {
			htmlText = HTMLToText(body)
		}
		if plain != "" {
			break
		}
	}
	if strings.TrimSpace(plain) != "" {
		return plain
	}
	if htmlText != "" {
		return htmlText
	}
	return ""
}

func (f *BodyTextFilter) readInlineBody(part *gomail.Part, header *gomail.InlineHeader) (string, string) {
	if part == nil || header == nil {
		return "", ""
	}
	mimeType, _, err := header.ContentType()
	if err != nil || strings.TrimSpace(mimeType) == "" {
		mimeType = header.Get("Content-Type")
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = "text/plain"
	}
	buf, readErr := io.ReadAll(io.LimitReader(part.Body, f.bodyLimit()))
	if readErr != nil {
		f.logf("body_text: read body failed: %v", readErr)
		return "", ""
	}
	return string(buf), mimeType
}

// HTMLToText strips markup while keeping block boundaries as line breaks.
func HTMLToText(in string) string {
	if in == "" {
		return ""
	}
	in = htmlLineBreakRegexp.ReplaceAllString(in, "\n")
	in = htmlCellBreakRegexp.ReplaceAllString(in, " ")
	out := spaceReplacer.Replace(html.UnescapeString(strictPolicy.Sanitize(in)))
	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func (f *BodyTextFilter) truncate(in string) string {
	limit := f.bodyLimit()
	if int64(len(in)) <= limit {
		return in
	}
	return in[:limit]
}

func (f *BodyTextFilter) bodyLimit() int64 {
	if f == nil || f.limit <= 0 {
		return defaultBodyTextLimit
	}
	return f.limit
}

func (f *BodyTextFilter) logf(format string, args ...any) {
	if f == nil || f.logger == nil {
		return
	}
	f.logger.Printf(format, args...)
}
