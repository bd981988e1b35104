package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_IntentStatus(t *testing.T) {
	s, ok := OutcomeSucceeded.IntentStatus()
	assert.True(t, ok)
	assert.Equal(t, IntentSucceeded, s)

	s, ok = OutcomeFailed.IntentStatus()
	assert.True(t, ok)
	assert.Equal(t, IntentFailed, s)

	_, ok = OutcomePending.IntentStatus()
	assert.False(t, ok)
}

func TestPaymentTarget_Valid(t *testing.T) {
	id := uuid.New()
	assert.True(t, PaymentTarget{BookingID: &id}.Valid())
	assert.True(t, PaymentTarget{OrderID: &id}.Valid())
	assert.False(t, PaymentTarget{}.Valid())
	assert.False(t, PaymentTarget{BookingID: &id, OrderID: &id}.Valid())
}

func TestMetadata_Scan(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan([]byte(`{"source":"web"}`)))
	assert.Equal(t, "web", m["source"])

	require.NoError(t, m.Scan(`{"a":"b"}`))
	assert.Equal(t, Metadata{"a": "b"}, m)

	require.NoError(t, m.Scan(nil))
	assert.Empty(t, m)

	assert.Error(t, m.Scan(42))
}
