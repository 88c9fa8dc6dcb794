package actor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMailboxProcessesInSendOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	mb := NewMailbox(16, func(n int) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, n)
	})
	for i := 0; i < 100; i++ {
		mb.Tell(i)
	}
	mb.Stop()

	require.Len(t, seen, 100)
	for i, n := range seen {
		require.Equal(t, i, n)
	}
}

func TestRequestReplyRoundTrip(t *testing.T) {
	mb := NewMailbox(1, func(req Request[int, int]) {
		req.Reply <- req.Payload * 2
	})
	defer mb.Stop()

	req := NewRequest[int, int](21)
	mb.Tell(req)
	require.Equal(t, 42, <-req.Reply)
}
