package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestState_JSONRoundTripsLockedSince(t *testing.T) {
	held := time.Now().Truncate(time.Second)
	want := State{
		EntityExists: true,
		LockedBy:     "@orchestrator::O",
		LockedSince:  &held,
	}

	data, err := json.Marshal(want)
	require.NoError(t, err)

	var got State
	require.NoError(t, json.Unmarshal(data, &got))

	require.Equal(t, want.LockedBy, got.LockedBy)
	require.NotNil(t, got.LockedSince)
	require.True(t, held.Equal(*got.LockedSince))
}

func TestState_CheckInvariants_LockedSinceMustMatchLockedBy(t *testing.T) {
	require.NoError(t, State{}.CheckInvariants())

	now := time.Now()
	require.NoError(t, (State{LockedBy: "x", LockedSince: &now}).CheckInvariants())

	require.Error(t, (State{LockedBy: "x"}).CheckInvariants(), "lockedBy set without lockedSince")
	require.Error(t, (State{LockedSince: &now}).CheckInvariants(), "lockedSince set without lockedBy")
}
