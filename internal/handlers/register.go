package handlers

import (
	"github.com/AIDEN1973/SAAS-sub009/internal/dispatch"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
)

// BuildRegistry returns the full handler registry. Every executable intent
// key maps to exactly one handler; the check command's consistency sweep
// cross-checks this set against the intent registry in both directions.
func BuildRegistry() *dispatch.Registry {
	r := dispatch.NewRegistry()

	r.Register(intent.StudentReadRoster, dispatch.HandlerFunc(rosterHandler))
	r.Register(intent.StudentReadProfile, dispatch.HandlerFunc(profileHandler))
	r.Register(intent.BillingReadOutstanding, dispatch.HandlerFunc(outstandingHandler))

	r.Register(intent.StudentExecDischarge, dispatch.HandlerFunc(dischargeHandler))
	r.Register(intent.StudentExecUpdateContact, dispatch.HandlerFunc(updateContactHandler))
	r.Register(intent.BillingExecIssueInvoices, dispatch.HandlerFunc(issueInvoicesHandler))
	r.Register(intent.BillingExecVoidInvoice, dispatch.HandlerFunc(voidInvoiceHandler))
	r.Register(intent.BillingExecRecordPayment, dispatch.HandlerFunc(recordPaymentHandler))

	r.Register(intent.MessagingExecReminder, dispatch.HandlerFunc(paymentReminderHandler))
	r.Register(intent.MessagingExecAbsence, dispatch.HandlerFunc(absenceNoticeHandler))

	return r
}
