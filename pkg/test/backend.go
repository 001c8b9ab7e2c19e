package test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nais/vpn-forwarder/pkg/framing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BackendWithResponses Start a loopback backend that reads one request per connection and answers the n-th
// connection with responses[n] before closing it. The raw response is written as is, so it may be deliberately
// incomplete. The test fails if fewer connections than responses were served.
func BackendWithResponses(t *testing.T, responses ...string) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		served int
		wg     sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			mu.Lock()
			idx := served
			served++
			mu.Unlock()

			if idx >= len(responses) {
				t.Errorf("unexpected connection number %d to backend, add a missing response", idx+1)
				_ = conn.Close()
				continue
			}

			_, _ = framing.ReadRequest(conn, 5*time.Second)
			_, _ = conn.Write([]byte(responses[idx]))
			_ = conn.Close()
		}
	}()

	t.Cleanup(func() {
		_ = listener.Close()
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, len(responses), served, "backend connections")
	})

	return listener.Addr().String()
}

// RefusingAddr An address on the loopback interface where connections are refused.
func RefusingAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}
