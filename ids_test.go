package neodap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSessionIDIsPronounceableAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newSessionID()
		require.Len(t, id, 16)
		require.False(t, seen[id], "collision at iteration %d: %s", i, id)
		seen[id] = true
		for j, r := range id {
			if j%2 == 0 {
				require.Contains(t, consonants, string(r))
			} else {
				require.Contains(t, vowels, string(r))
			}
		}
	}
}
