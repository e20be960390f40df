package transport

import (
	"net"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/icmpmsgr/internal/wire"
)

func TestAckTable_InsertRemove(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	table := newAckTable(clock)
	p := wire.NewPacket(wire.KindNewMessage, 1, []byte("x"))
	dst := net.IPv4(10, 0, 0, 1)

	table.insert(p, dst)
	require.Equal(t, 1, table.size())
	require.True(t, table.contains(1))

	got, ok := table.destFor(1)
	require.True(t, ok)
	require.True(t, got.Equal(dst))

	require.True(t, table.remove(1))
	require.Equal(t, 0, table.size())
	require.False(t, table.contains(1))
}

func TestAckTable_RemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	table := newAckTable(clock)
	p := wire.NewPacket(wire.KindNewMessage, 42, nil)
	table.insert(p, net.IPv4(1, 2, 3, 4))

	require.True(t, table.remove(42))
	require.False(t, table.remove(42)) // second removal: no-op
}

func TestAckTable_SnapshotDue_Unbounded(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	table := newAckTable(clock)
	table.insert(wire.NewPacket(wire.KindNewMessage, 1, nil), net.IPv4(1, 1, 1, 1))

	require.Empty(t, table.snapshotDue(0))

	clock.Advance(RetryTimeout + 1)
	due := table.snapshotDue(0)
	require.Len(t, due, 1)
	require.Equal(t, uint64(1), due[0].packet.ID)
	require.False(t, due[0].abandoned)
	require.Equal(t, 1, due[0].retryCount)

	// Immediately after, lastSent was refreshed; not due again.
	require.Empty(t, table.snapshotDue(0))
}

func TestAckTable_SnapshotDue_AbandonsAfterMaxRetries(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	table := newAckTable(clock)
	table.insert(wire.NewPacket(wire.KindNewMessage, 7, nil), net.IPv4(2, 2, 2, 2))

	for i := 0; i < 2; i++ {
		clock.Advance(RetryTimeout + 1)
		due := table.snapshotDue(2)
		require.Len(t, due, 1)
		require.False(t, due[0].abandoned)
	}

	clock.Advance(RetryTimeout + 1)
	due := table.snapshotDue(2)
	require.Len(t, due, 1)
	require.True(t, due[0].abandoned)
	require.Equal(t, 0, table.size())
}
