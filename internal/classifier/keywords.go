package classifier

import (
	"context"
	"encoding/json"
	"strings"
)

// keywordRule maps trigger words to an intent key. All words of one rule
// must appear (case-insensitive) for the rule to fire; rules are tried in
// order, most specific first.
type keywordRule struct {
	words  []string
	intent string
}

var keywordRules = []keywordRule{
	{words: []string{"discharge"}, intent: "student.exec.discharge"},
	{words: []string{"transfer"}, intent: "student.exec.transfer"},
	{words: []string{"issue", "invoice"}, intent: "billing.exec.issue_invoices"},
	{words: []string{"void", "invoice"}, intent: "billing.exec.void_invoice"},
	{words: []string{"payment", "reminder"}, intent: "messaging.exec.payment_reminder"},
	{words: []string{"remind"}, intent: "messaging.exec.payment_reminder"},
	{words: []string{"record", "payment"}, intent: "billing.exec.record_payment"},
	{words: []string{"mark", "paid"}, intent: "billing.exec.record_payment"},
	{words: []string{"absence"}, intent: "messaging.exec.absence_notice"},
	{words: []string{"contact"}, intent: "student.exec.update_contact"},
	{words: []string{"outstanding"}, intent: "billing.read.outstanding"},
	{words: []string{"unpaid"}, intent: "billing.read.outstanding"},
	{words: []string{"roster"}, intent: "student.read.roster"},
	{words: []string{"list", "students"}, intent: "student.read.roster"},
	{words: []string{"profile"}, intent: "student.read.profile"},
}

// KeywordResolver is the deterministic fallback used when the model
// classifier is unavailable, low-confidence, or malformed. It proposes an
// intent key only; parameters stay empty and the engine asks the user to
// fill in what the schema requires.
type KeywordResolver struct{}

// Classify matches the message against the keyword table. A miss returns a
// zero-confidence result, which the engine turns into a clarification
// request rather than an error.
func (KeywordResolver) Classify(ctx context.Context, req *Request) (*Result, error) {
	_, span := tracer.Start(ctx, "classifier.keyword_fallback")
	defer span.End()

	lower := strings.ToLower(req.Message)
	for _, rule := range keywordRules {
		matched := true
		for _, w := range rule.words {
			if !strings.Contains(lower, w) {
				matched = false
				break
			}
		}
		if matched {
			return &Result{
				IntentKey:  rule.intent,
				Params:     json.RawMessage(`{}`),
				Confidence: 1,
			}, nil
		}
	}
	return &Result{Params: json.RawMessage(`{}`)}, nil
}
