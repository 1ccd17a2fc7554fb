package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextIncreases(t *testing.T) {
	g, err := New(1)
	require.NoError(t, err)
	prev := g.Next()
	for i := 0; i < 10000; i++ {
		n := g.Next()
		require.Greater(t, n, prev)
		prev = n
	}
}

func TestNextConcurrentDistinct(t *testing.T) {
	g, err := New(7)
	require.NoError(t, err)
	const workers, per = 16, 2000
	out := make(chan int64, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				out <- g.Next()
			}
		}()
	}
	wg.Wait()
	close(out)
	seen := make(map[int64]struct{}, workers*per)
	for n := range out {
		_, dup := seen[n]
		require.False(t, dup, "duplicate sequence %d", n)
		seen[n] = struct{}{}
	}
	require.Len(t, seen, workers*per)
}

func TestNewRejectsNodeOutOfRange(t *testing.T) {
	_, err := New(4096)
	require.Error(t, err)
}
