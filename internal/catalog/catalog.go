// Package catalog defines the closed whitelist of domain mutations the
// assistant engine is ever allowed to perform. Any action key outside this
// set is a hard failure at execution time; there is no pass-through for
// unknown keys, regardless of what the intent registry or a handler claims.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCatalogViolation is returned when an action key is not in the closed
// set. This is security-relevant: it means the intent registry, a handler,
// or persisted data has drifted from the catalog.
var ErrCatalogViolation = errors.New("action key not in domain action catalog")

// RiskClass grades how destructive an action is if misapplied.
type RiskClass string

const (
	RiskLow    RiskClass = "low"
	RiskMedium RiskClass = "medium"
	RiskHigh   RiskClass = "high"
)

// Action keys. The set of constants below IS the catalog; adding a mutation
// capability means adding a constant and an Entry here, nothing else.
const (
	ActionStudentDischarge     = "student.discharge"
	ActionStudentUpdateContact = "student.update_contact"
	ActionBillingIssueInvoices = "billing.issue_invoices"
	ActionBillingVoidInvoice   = "billing.void_invoice"
	ActionBillingRecordPayment = "billing.record_payment"
)

// Entry describes a single permitted mutation capability.
type Entry struct {
	ActionKey   string
	Description string
	Risk        RiskClass
}

var entries = map[string]Entry{
	ActionStudentDischarge: {
		ActionKey:   ActionStudentDischarge,
		Description: "mark a student as discharged",
		Risk:        RiskHigh,
	},
	ActionStudentUpdateContact: {
		ActionKey:   ActionStudentUpdateContact,
		Description: "update a student's contact phone/email",
		Risk:        RiskLow,
	},
	ActionBillingIssueInvoices: {
		ActionKey:   ActionBillingIssueInvoices,
		Description: "issue invoices for a billing period",
		Risk:        RiskMedium,
	},
	ActionBillingVoidInvoice: {
		ActionKey:   ActionBillingVoidInvoice,
		Description: "void a previously issued invoice",
		Risk:        RiskHigh,
	},
	ActionBillingRecordPayment: {
		ActionKey:   ActionBillingRecordPayment,
		Description: "record a manual payment against an invoice",
		Risk:        RiskMedium,
	},
}

// AssertActionKey fails hard on any key not present in the catalog.
// Mutate-class handlers must call this before their first write, independent
// of any check already performed upstream.
func AssertActionKey(key string) error {
	if _, ok := entries[key]; !ok {
		return fmt.Errorf("%w: %q", ErrCatalogViolation, key)
	}
	return nil
}

// Lookup returns the catalog entry for key.
func Lookup(key string) (Entry, bool) {
	e, ok := entries[key]
	return e, ok
}

// Keys returns all catalog action keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
