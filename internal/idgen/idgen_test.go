package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UniqueAndValid(t *testing.T) {
	seen := make(map[string]struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				id := New()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 2000)

	for id := range seen {
		require.True(t, Valid(id), id)
		break
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("risk_")
	assert.True(t, strings.HasPrefix(id, "risk_"))
	assert.Len(t, id, len("risk_")+32)
	assert.NotContains(t, id, "-")
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(16), 32)
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-uuid"))
	assert.False(t, Valid("'; DROP TABLE decoy_sessions; --"))
	assert.True(t, Valid("3f6c1f4e-1d2b-4c55-9a7e-2b1f0a9c8d7e"))
}
