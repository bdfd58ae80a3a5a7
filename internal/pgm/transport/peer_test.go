package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dewetron/pgmrecv/internal/pgm/classify"
	"github.com/dewetron/pgmrecv/internal/pgm/wire"
)

func TestPeerTableGetOrCreateIsIdempotent(t *testing.T) {
	table := newPeerTable()
	tsi := wire.TSI{GSI: wire.GSI{1, 1, 1, 1, 1, 1}, Port: 10}

	p1 := table.getOrCreate(tsi, classify.Downstream)
	p2 := table.getOrCreate(tsi, classify.Downstream)
	require.Same(t, p1, p2)
	require.Equal(t, 1, table.count())
}

func TestPeerTablePendingTracking(t *testing.T) {
	table := newPeerTable()
	tsi := wire.TSI{GSI: wire.GSI{2, 2, 2, 2, 2, 2}, Port: 11}
	table.getOrCreate(tsi, classify.Downstream)

	require.Empty(t, table.pendingTSIs())
	table.markPending(tsi)
	require.Equal(t, []wire.TSI{tsi}, table.pendingTSIs())
	table.clearPending(tsi)
	require.Empty(t, table.pendingTSIs())
}

func TestPeerTableHasReflectsMembership(t *testing.T) {
	table := newPeerTable()
	tsi := wire.TSI{GSI: wire.GSI{3, 3, 3, 3, 3, 3}, Port: 12}
	require.False(t, table.has(tsi))
	table.getOrCreate(tsi, classify.Peer)
	require.True(t, table.has(tsi))
}
