package catalog

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertActionKey(t *testing.T) {
	for _, key := range Keys() {
		assert.NoError(t, AssertActionKey(key))
	}

	tests := []string{
		"",
		"student.delete",
		"student.discharge ",
		"STUDENT.DISCHARGE",
		"billing.issue_invoices.all",
	}
	for _, key := range tests {
		err := AssertActionKey(key)
		require.Error(t, err, "key %q must be outside the catalog", key)
		assert.True(t, errors.Is(err, ErrCatalogViolation))
	}
}

func TestLookup(t *testing.T) {
	e, ok := Lookup(ActionStudentDischarge)
	require.True(t, ok)
	assert.Equal(t, RiskHigh, e.Risk)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestKeysSorted(t *testing.T) {
	keys := Keys()
	assert.True(t, sort.StringsAreSorted(keys))
	assert.Contains(t, keys, ActionBillingRecordPayment)
}
