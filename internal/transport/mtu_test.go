package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMTU_BuildAndMatchProbeReply(t *testing.T) {
	t.Parallel()
	payload := buildProbePayload(42)
	require.Len(t, payload, ProbePayloadTotal)

	size, ok := matchProbeReply(payload[:1400], 42)
	require.True(t, ok)
	require.Equal(t, 1400, size)

	_, ok = matchProbeReply(payload[:1400], 43)
	require.False(t, ok)

	_, ok = matchProbeReply([]byte("too short"), 42)
	require.False(t, ok)
}

func TestMTU_DefaultsToInitialSize(t *testing.T) {
	t.Parallel()
	m := newMTUState()
	require.Equal(t, InitialMTU, m.CurrentSize())
	m.setCurrentSize(1400)
	require.Equal(t, 1400, m.CurrentSize())
}
