package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	d, err := Resolve(StudentExecDischarge)
	require.NoError(t, err)
	assert.Equal(t, LevelApproval, d.Level)
	assert.Equal(t, ClassMutate, d.Class)
	assert.Equal(t, "student.discharge", d.ActionKey)

	_, err = Resolve("student.exec.delete_everything")
	assert.ErrorIs(t, err, ErrUnknownIntent)
}

func TestKeySegments(t *testing.T) {
	k := Key("billing.exec.issue_invoices")
	assert.Equal(t, "billing", k.Domain())
	assert.Equal(t, "exec", k.Type())
	assert.Equal(t, "issue_invoices", k.Action())

	assert.Empty(t, Key("billing").Type())
}

// allHandlers simulates a complete handler registry for the sweep.
func allHandlers() map[Key]bool {
	m := make(map[Key]bool)
	for _, k := range Keys() {
		m[k] = true
	}
	return m
}

func verifyInputFor(handlers map[Key]bool) VerifyInput {
	return VerifyInput{
		HasHandler: func(k Key) bool { return handlers[k] },
		HandlerKeys: func() []Key {
			var keys []Key
			for k := range handlers {
				keys = append(keys, k)
			}
			return keys
		},
		HasPolicyEntry: func(actionKey string) bool { return true },
	}
}

func TestVerifyCleanRegistry(t *testing.T) {
	errs := Verify(verifyInputFor(allHandlers()))
	assert.Empty(t, errs)
}

func TestVerifyDetectsMissingHandler(t *testing.T) {
	handlers := allHandlers()
	delete(handlers, BillingExecIssueInvoices)

	errs := Verify(verifyInputFor(handlers))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no handler registered")
}

func TestVerifyDetectsOrphanHandler(t *testing.T) {
	handlers := allHandlers()
	handlers["billing.exec.transfer_funds"] = true

	errs := Verify(verifyInputFor(handlers))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "unknown intent")
}

func TestVerifyDetectsMissingPolicyEntry(t *testing.T) {
	in := verifyInputFor(allHandlers())
	in.HasPolicyEntry = func(actionKey string) bool {
		return actionKey != "billing.void_invoice"
	}

	errs := Verify(in)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "billing.void_invoice")
}

func TestRegistryLevelsAndClasses(t *testing.T) {
	// Read intents carry no execution wiring at all.
	for _, key := range []Key{StudentReadRoster, StudentReadProfile, BillingReadOutstanding} {
		d, err := Resolve(key)
		require.NoError(t, err)
		assert.Equal(t, LevelReadOnly, d.Level)
		assert.Equal(t, ClassNone, d.Class)
		assert.Empty(t, d.ActionKey)
	}

	// Direct-execute entries always declare a class.
	for _, key := range []Key{StudentExecUpdateContact, BillingExecRecordPayment, MessagingExecReminder, MessagingExecAbsence} {
		d, err := Resolve(key)
		require.NoError(t, err)
		assert.Equal(t, LevelDirect, d.Level)
		assert.NotEqual(t, ClassNone, d.Class)
	}

	// High-risk billing mutations stay behind human approval.
	for _, key := range []Key{BillingExecIssueInvoices, BillingExecVoidInvoice} {
		d, err := Resolve(key)
		require.NoError(t, err)
		assert.Equal(t, LevelApproval, d.Level)
		assert.Equal(t, ClassMutate, d.Class)
	}

	// Approval without a class is a human to-do card, nothing executes.
	d, err := Resolve(StudentExecTransfer)
	require.NoError(t, err)
	assert.Equal(t, LevelApproval, d.Level)
	assert.Equal(t, ClassNone, d.Class)
	assert.Empty(t, d.ActionKey)
}

func TestAbsenceNoticePurposeMap(t *testing.T) {
	d, err := Resolve(MessagingExecAbsence)
	require.NoError(t, err)
	assert.Empty(t, d.EventType)
	assert.Equal(t, "attendance.absence_notice.guardian", d.EventTypes["guardian"])
	assert.Equal(t, "attendance.absence_notice.teacher", d.EventTypes["teacher"])
}
