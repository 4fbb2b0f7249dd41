package classifier

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// maskPattern is a compiled PII recognizer.
type maskPattern struct {
	ptype        string
	pattern      *regexp.Regexp
	validateLuhn bool
}

var maskPatterns = []maskPattern{
	{
		ptype:   "EMAIL",
		pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	},
	{
		ptype:   "PHONE",
		pattern: regexp.MustCompile(`(?:\+|\b0)\d[\d \-]{7,14}\d\b`),
	},
	{
		ptype:        "CARD",
		pattern:      regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`),
		validateLuhn: true,
	},
	{
		ptype:   "NATIONAL_ID",
		pattern: regexp.MustCompile(`\b\d{6}[\-+]\d{4}\b`),
	},
}

// MaskEntity is one detected PII instance.
type MaskEntity struct {
	Type     string
	Value    string
	Position int
}

// Masker detects and redacts PII from any text crossing the boundary to the
// classifier collaborator or into logs.
type Masker struct{}

// NewMasker returns a masker with the built-in recognizers.
func NewMasker() *Masker { return &Masker{} }

// Scan returns the PII entities found in text. Card-number candidates must
// pass the Luhn check before they count.
func (m *Masker) Scan(ctx context.Context, text string) []MaskEntity {
	_, span := tracer.Start(ctx, "classifier.mask_scan")
	defer span.End()

	var entities []MaskEntity
	for _, p := range maskPatterns {
		for _, match := range p.pattern.FindAllStringIndex(text, -1) {
			value := text[match[0]:match[1]]
			if p.validateLuhn && !luhnValid(stripNonDigits(value)) {
				continue
			}
			entities = append(entities, MaskEntity{Type: p.ptype, Value: value, Position: match[0]})
		}
	}

	span.SetAttributes(attribute.Int("pii.entity_count", len(entities)))
	return entities
}

// Mask replaces detected PII with type placeholders like "[EMAIL]".
// Overlapping matches are merged, longest first.
func (m *Masker) Mask(ctx context.Context, text string) string {
	entities := m.Scan(ctx, text)
	if len(entities) == 0 {
		return text
	}

	type span struct {
		start, end int
		ptype      string
	}
	spans := make([]span, len(entities))
	for i, e := range entities {
		spans[i] = span{start: e.Position, end: e.Position + len(e.Value), ptype: e.Type}
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end-spans[i].start > spans[j].end-spans[j].start
	})

	var merged []span
	for _, s := range spans {
		if len(merged) > 0 && s.start < merged[len(merged)-1].end {
			if s.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}

	result := []byte(text)
	for i := len(merged) - 1; i >= 0; i-- {
		s := merged[i]
		placeholder := "[" + s.ptype + "]"
		result = append(result[:s.start], append([]byte(placeholder), result[s.end:]...)...)
	}
	return string(result)
}

// luhnValid checks whether a digit string passes the Luhn algorithm.
func luhnValid(number string) bool {
	n := len(number)
	if n < 13 {
		return false
	}
	sum := 0
	alt := false
	for i := n - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
