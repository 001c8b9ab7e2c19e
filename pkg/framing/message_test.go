package framing_test

import (
	"testing"

	"github.com/nais/vpn-forwarder/pkg/framing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaders(t *testing.T) {
	newHeaders := func() framing.Headers {
		msg, err := framing.ParseHead(framing.KindRequest, []byte("GET / HTTP/1.1\r\nHost: a\r\nX-Dup: 1\r\ncookie: c=1\r\nX-Dup: 2"))
		require.NoError(t, err)
		return msg.Headers
	}

	t.Run("case insensitive lookups", func(t *testing.T) {
		h := newHeaders()
		assert.Equal(t, "c=1", h.Get("Cookie"))
		assert.Equal(t, []string{"1", "2"}, h.Values("x-dup"))
		assert.True(t, h.Has("HOST"))
		assert.Empty(t, h.Get("missing"))
	})

	t.Run("del removes every line", func(t *testing.T) {
		h := newHeaders()
		assert.Equal(t, 2, h.Del("X-DUP"))
		assert.Len(t, h, 2)
		assert.Equal(t, 0, h.Del("X-Dup"))
	})

	t.Run("set replaces first and drops duplicates", func(t *testing.T) {
		h := newHeaders()
		h.Set("x-dup", "3")
		assert.Equal(t, []string{"3"}, h.Values("X-Dup"))
		assert.Equal(t, "X-Dup", h[1].Name)
		assert.Len(t, h, 3)

		h.Set("New", "v")
		assert.Equal(t, "v", h.Get("new"))
	})
}

func TestMessage(t *testing.T) {
	t.Run("set target rebuilds request line only", func(t *testing.T) {
		msg, err := framing.ParseHead(framing.KindRequest, []byte("GET /a?auth_token=x HTTP/1.1\r\nHost:backend"))
		require.NoError(t, err)

		msg.SetTarget("/a")
		assert.Equal(t, "GET /a HTTP/1.1\r\nHost:backend\r\n\r\n", string(msg.Bytes()))
	})

	t.Run("set body recomputes content length", func(t *testing.T) {
		msg, err := framing.ParseHead(framing.KindResponse, []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nTransfer-Encoding: chunked"))
		require.NoError(t, err)

		msg.SetBody([]byte("rewritten"))
		length, declared, err := msg.ContentLength()
		assert.NoError(t, err)
		assert.True(t, declared)
		assert.Equal(t, 9, length)
		assert.False(t, msg.Headers.Has("Transfer-Encoding"))
	})
}
