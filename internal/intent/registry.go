package intent

import (
	"fmt"

	"github.com/AIDEN1973/SAAS-sub009/internal/catalog"
)

// Intent keys recognized by the engine.
const (
	StudentReadRoster        Key = "student.read.roster"
	StudentReadProfile       Key = "student.read.profile"
	BillingReadOutstanding   Key = "billing.read.outstanding"
	StudentExecDischarge     Key = "student.exec.discharge"
	StudentExecTransfer      Key = "student.exec.transfer"
	StudentExecUpdateContact Key = "student.exec.update_contact"
	BillingExecIssueInvoices Key = "billing.exec.issue_invoices"
	BillingExecVoidInvoice   Key = "billing.exec.void_invoice"
	BillingExecRecordPayment Key = "billing.exec.record_payment"
	MessagingExecReminder    Key = "messaging.exec.payment_reminder"
	MessagingExecAbsence     Key = "messaging.exec.absence_notice"
)

var registry = map[Key]Descriptor{
	StudentReadRoster: {
		Key:   StudentReadRoster,
		Level: LevelReadOnly,
	},
	StudentReadProfile: {
		Key:   StudentReadProfile,
		Level: LevelReadOnly,
	},
	BillingReadOutstanding: {
		Key:   BillingReadOutstanding,
		Level: LevelReadOnly,
	},
	StudentExecDischarge: {
		Key:       StudentExecDischarge,
		Level:     LevelApproval,
		Class:     ClassMutate,
		ActionKey: catalog.ActionStudentDischarge,
	},
	// Transfer paperwork is handled by staff; the card is a human to-do
	// with no automated execution behind it.
	StudentExecTransfer: {
		Key:   StudentExecTransfer,
		Level: LevelApproval,
	},
	BillingExecIssueInvoices: {
		Key:       BillingExecIssueInvoices,
		Level:     LevelApproval,
		Class:     ClassMutate,
		ActionKey: catalog.ActionBillingIssueInvoices,
	},
	BillingExecVoidInvoice: {
		Key:       BillingExecVoidInvoice,
		Level:     LevelApproval,
		Class:     ClassMutate,
		ActionKey: catalog.ActionBillingVoidInvoice,
	},
	StudentExecUpdateContact: {
		Key:       StudentExecUpdateContact,
		Level:     LevelDirect,
		Class:     ClassMutate,
		ActionKey: catalog.ActionStudentUpdateContact,
	},
	BillingExecRecordPayment: {
		Key:       BillingExecRecordPayment,
		Level:     LevelDirect,
		Class:     ClassMutate,
		ActionKey: catalog.ActionBillingRecordPayment,
	},
	MessagingExecReminder: {
		Key:       MessagingExecReminder,
		Level:     LevelDirect,
		Class:     ClassNotify,
		EventType: "billing.payment_reminder",
	},
	MessagingExecAbsence: {
		Key:   MessagingExecAbsence,
		Level: LevelDirect,
		Class: ClassNotify,
		EventTypes: map[string]string{
			"guardian": "attendance.absence_notice.guardian",
			"teacher":  "attendance.absence_notice.teacher",
		},
	},
}

// VerifyInput supplies the external sets Verify cross-checks the registry
// against. Functions rather than concrete types keep this package free of
// dispatcher and policy imports.
type VerifyInput struct {
	// HasHandler reports whether the handler registry has an entry for key.
	HasHandler func(Key) bool
	// HandlerKeys lists every key the handler registry knows, for the
	// reverse (no orphan handlers) direction of the closed-world check.
	HandlerKeys func() []Key
	// HasPolicyEntry reports whether at least one tenant policy entry
	// exists for the given catalog action key.
	HasPolicyEntry func(actionKey string) bool
}

// Verify runs the offline consistency sweep closing three drift vectors in
// one pass: registry↔catalog, registry↔handlers (both directions), and
// catalog↔policy. It is run by the check command and by tests, never on the
// request path.
func Verify(in VerifyInput) []error {
	var errs []error

	for _, key := range Keys() {
		d := registry[key]

		switch d.Level {
		case LevelReadOnly:
			if d.Class != ClassNone || d.ActionKey != "" || d.EventType != "" || len(d.EventTypes) > 0 {
				errs = append(errs, fmt.Errorf("intent %s: read-only entries must not declare class, action key, or events", key))
			}
		case LevelDirect:
			if d.Class == ClassNone {
				errs = append(errs, fmt.Errorf("intent %s: direct-execute entries require an execution class", key))
			}
		case LevelApproval:
			// Class optional: absent means the card is a human to-do.
		default:
			errs = append(errs, fmt.Errorf("intent %s: invalid automation level %d", key, d.Level))
		}

		switch d.Class {
		case ClassMutate:
			if d.ActionKey == "" {
				errs = append(errs, fmt.Errorf("intent %s: mutate class requires an action key", key))
			} else if _, ok := catalog.Lookup(d.ActionKey); !ok {
				errs = append(errs, fmt.Errorf("intent %s: action key %q not in domain action catalog", key, d.ActionKey))
			}
		case ClassNotify:
			if d.EventType == "" && len(d.EventTypes) == 0 {
				errs = append(errs, fmt.Errorf("intent %s: notify class requires an event type or purpose-keyed event map", key))
			}
			if d.EventType != "" && len(d.EventTypes) > 0 {
				errs = append(errs, fmt.Errorf("intent %s: declare either an event type or an event map, not both", key))
			}
		}

		needsHandler := d.Level == LevelReadOnly || d.Level == LevelDirect ||
			(d.Level == LevelApproval && d.Class != ClassNone)
		if needsHandler && in.HasHandler != nil && !in.HasHandler(key) {
			errs = append(errs, fmt.Errorf("intent %s: no handler registered", key))
		}
	}

	if in.HandlerKeys != nil {
		for _, key := range in.HandlerKeys() {
			if _, ok := registry[key]; !ok {
				errs = append(errs, fmt.Errorf("handler registered for unknown intent %s", key))
			}
		}
	}

	if in.HasPolicyEntry != nil {
		for _, actionKey := range catalog.Keys() {
			if !in.HasPolicyEntry(actionKey) {
				errs = append(errs, fmt.Errorf("catalog action %s: no policy entry for any tenant", actionKey))
			}
		}
	}

	return errs
}
