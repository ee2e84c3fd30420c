package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerInstanceIDRoundTrip(t *testing.T) {
	cases := []EntityId{
		NewEntityId("Counter", "c1"),
		NewEntityId("StringStore", "k"),
		NewEntityId("a", ""),
	}
	for _, id := range cases {
		encoded := ToSchedulerInstanceID(id)
		decoded, err := ParseSchedulerInstanceID(encoded)
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestParseSchedulerInstanceID_Malformed(t *testing.T) {
	_, err := ParseSchedulerInstanceID("no-prefix")
	assert.Error(t, err)

	_, err = ParseSchedulerInstanceID("@missing-separator")
	assert.Error(t, err)

	_, err = ParseSchedulerInstanceID("@a::b::c")
	assert.Error(t, err)
}

func TestEntityIdLess_TotalOrder(t *testing.T) {
	a := NewEntityId("Counter", "a")
	b := NewEntityId("Counter", "b")
	z := NewEntityId("Zebra", "a")

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, b.Less(z))
}

func TestSortLockSet_SortsAndDedupes(t *testing.T) {
	in := []EntityId{
		NewEntityId("Counter", "b"),
		NewEntityId("Counter", "a"),
		NewEntityId("Counter", "b"),
		NewEntityId("Account", "x"),
	}
	out := SortLockSet(in)
	require.Len(t, out, 3)
	assert.True(t, IsSortedLockSet(out))
	assert.Equal(t, NewEntityId("Account", "x"), out[0])
	assert.Equal(t, NewEntityId("Counter", "a"), out[1])
	assert.Equal(t, NewEntityId("Counter", "b"), out[2])
}
