package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, st := range Statuses() {
		got, err := ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	got, err := ParseStatus(" No-Show ")
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got)

	_, err = ParseStatus("pending")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ParseStatus("")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStatusProperties(t *testing.T) {
	assert.False(t, StatusScheduled.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusNoShow.Terminal())

	assert.False(t, StatusCancelled.BlocksSlot())
	assert.True(t, StatusNoShow.BlocksSlot())
	assert.False(t, Status("archived").Valid())
}

func TestPermissivePolicyAcceptsAnyMember(t *testing.T) {
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			assert.NoError(t, PolicyPermissive.Check(from, to), "%s -> %s", from, to)
		}
	}
	assert.ErrorIs(t, PolicyPermissive.Check(StatusScheduled, "archived"), ErrValidation)
}

func TestGuardedPolicy(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusCompleted, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusNoShow, true},
		{StatusScheduled, StatusScheduled, false},
		{StatusConfirmed, StatusConfirmed, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusScheduled, false},
		{StatusCompleted, StatusScheduled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusNoShow, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := PolicyGuarded.Check(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyPermissive, p)

	p, err = ParsePolicy("Guarded")
	require.NoError(t, err)
	assert.Equal(t, PolicyGuarded, p)
	assert.Equal(t, "guarded", p.String())

	_, err = ParsePolicy("strict")
	assert.Error(t, err)
}
