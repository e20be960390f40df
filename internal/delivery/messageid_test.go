package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMessageID_Unique(t *testing.T) {
	t.Parallel()
	seen := make(map[uint64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		_, dup := seen[id]
		require.False(t, dup, "unexpected collision over 1000 draws")
		seen[id] = struct{}{}
	}
}
