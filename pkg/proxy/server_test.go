package proxy_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nais/vpn-forwarder/pkg/authn"
	"github.com/nais/vpn-forwarder/pkg/credentials"
	"github.com/nais/vpn-forwarder/pkg/framing"
	"github.com/nais/vpn-forwarder/pkg/logger"
	"github.com/nais/vpn-forwarder/pkg/proxy"
	"github.com/nais/vpn-forwarder/pkg/routing"
	"github.com/nais/vpn-forwarder/pkg/sanitize"
	"github.com/nais/vpn-forwarder/pkg/sessions"
	"github.com/nais/vpn-forwarder/pkg/test"
	"github.com/nais/vpn-forwarder/pkg/types"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginURL = "http://localhost:3001/"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type forwarder struct {
	t      *testing.T
	t0     time.Time
	clock  *clock
	signer *credentials.Signer
	store  sessions.Store
	addr   string
}

// startForwarder Run a forwarder on a loopback listener with an in-memory session store.
func startForwarder(t *testing.T, table routing.Table, opts ...proxy.Option) *forwarder {
	t.Helper()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &clock{now: t0}

	signer, err := credentials.NewSigner("secret", credentials.WithClock(c.Now))
	require.NoError(t, err)

	internal, _ := logtest.NewNullLogger()
	log := logger.New(internal)
	store := sessions.NewMemoryStore()

	authenticator := authn.New(signer, store, log, authn.WithClock(c.Now))
	router := routing.New(table, routing.WithIOTimeout(2*time.Second))
	opts = append([]proxy.Option{proxy.WithLoginURL(loginURL), proxy.WithIOTimeout(2 * time.Second)}, opts...)
	server := proxy.New(authenticator, sanitize.New("X-Auth-Token"), router, log, opts...)

	return &forwarder{
		t:      t,
		t0:     t0,
		clock:  c,
		signer: signer,
		store:  store,
		addr:   serve(t, server),
	}
}

func serve(t *testing.T, server *proxy.Server) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = server.Serve(ctx, listener)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return listener.Addr().String()
}

func (f *forwarder) login(username string, target types.TargetID) string {
	f.t.Helper()
	token, _, err := f.signer.Issue(username, target)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Create(context.Background(), sessions.New(username, token, target, 30, f.clock.Now())))
	return token
}

func (f *forwarder) do(raw string) *framing.Message {
	f.t.Helper()
	conn, err := net.Dial("tcp", f.addr)
	require.NoError(f.t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(raw))
	require.NoError(f.t, err)

	resp, err := framing.ReadResponse(conn, 5*time.Second)
	require.NoError(f.t, err)
	return resp
}

func (f *forwarder) get(path, token string) *framing.Message {
	f.t.Helper()
	return f.do(fmt.Sprintf("GET %s HTTP/1.1\r\nHost: forwarder\r\nAuthorization: Bearer %s\r\n\r\n", path, token))
}

// echoBackend An HTTP backend that answers with the credential carriers it received.
func echoBackend(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "path=%s authorization=%q cookie=%q header=%q query=%q",
			r.URL.Path, r.Header.Get("Authorization"), r.Header.Get("Cookie"), r.Header.Get("X-Auth-Token"), r.URL.RawQuery)
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestScenarioSlidingExpiry(t *testing.T) {
	f := startForwarder(t, routing.Table{"6060": echoBackend(t)})
	token := f.login("u1", "6060")

	f.clock.Set(f.t0.Add(29 * time.Minute))
	resp := f.get("/", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	f.clock.Set(f.t0.Add(70 * time.Minute))
	resp = f.get("/", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(resp.Body), loginURL)
}

func TestScenarioSingleSession(t *testing.T) {
	f := startForwarder(t, routing.Table{"6060": echoBackend(t)})
	first := f.login("u1", "6060")
	second := f.login("u1", "6060")

	assert.Equal(t, http.StatusUnauthorized, f.get("/", first).StatusCode)
	assert.Equal(t, http.StatusOK, f.get("/", second).StatusCode)
}

func TestScenarioRouteMissing(t *testing.T) {
	f := startForwarder(t, routing.Table{"6060": echoBackend(t)})
	token := f.login("u1", "7070")

	resp := f.get("/", token)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "Internal Server Error")
	assert.Equal(t, "close", resp.Headers.Get("Connection"))
}

func TestScenarioBackendFaults(t *testing.T) {
	f := startForwarder(t, routing.Table{
		"6060": test.RefusingAddr(t),
		"8080": test.BackendWithResponses(t, "HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\nonly a little"),
	})

	resp := f.get("/", f.login("u1", "6060"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "503 Service Unavailable")

	resp = f.get("/", f.login("u2", "8080"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "502 Bad Gateway")
}

func TestRelay(t *testing.T) {
	f := startForwarder(t, routing.Table{"6060": echoBackend(t)})
	token := f.login("u1", "6060")

	t.Run("credentials are stripped before relaying", func(t *testing.T) {
		resp := f.do("GET /docs?page=2&auth_token=" + token + " HTTP/1.1\r\n" +
			"Host: forwarder\r\n" +
			"Authorization: Bearer " + token + "\r\n" +
			"Cookie: auth_token=" + token + "; theme=dark\r\n" +
			"X-Auth-Token: " + token + "\r\n\r\n")

		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := string(resp.Body)
		assert.NotContains(t, body, token)
		assert.Contains(t, body, `path=/docs`)
		assert.Contains(t, body, `authorization=""`)
		assert.Contains(t, body, `cookie="theme=dark"`)
		assert.Contains(t, body, `header=""`)
		assert.Contains(t, body, `query="page=2"`)
	})

	t.Run("credential from query parameter", func(t *testing.T) {
		resp := f.do("GET /?auth_token=" + token + " HTTP/1.1\r\nHost: forwarder\r\n\r\n")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("excluded path skips authentication", func(t *testing.T) {
		resp := f.do("GET /favicon.ico HTTP/1.1\r\nHost: forwarder\r\n\r\n")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("missing credential", func(t *testing.T) {
		resp := f.do("GET / HTTP/1.1\r\nHost: forwarder\r\n\r\n")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, string(resp.Body), `href="`+loginURL+`"`)
	})

	t.Run("malformed request closes without response", func(t *testing.T) {
		conn, err := net.Dial("tcp", f.addr)
		require.NoError(t, err)
		defer conn.Close()

		_, err = conn.Write([]byte("garbage\r\n\r\n"))
		require.NoError(t, err)

		_, err = framing.ReadResponse(conn, 2*time.Second)
		assert.ErrorIs(t, err, framing.ErrTruncated)
	})
}

type panickingAuthenticator struct{}

func (panickingAuthenticator) Authenticate(context.Context, *framing.Message) (*authn.Identity, error) {
	panic("boom")
}

type failingAuthenticator struct{}

func (failingAuthenticator) Authenticate(context.Context, *framing.Message) (*authn.Identity, error) {
	return nil, errors.New("session store unavailable")
}

func TestHandlerFaults(t *testing.T) {
	internal, _ := logtest.NewNullLogger()
	log := logger.New(internal)

	for name, authenticator := range map[string]proxy.Authenticator{
		"panic":       panickingAuthenticator{},
		"store fault": failingAuthenticator{},
	} {
		t.Run(name, func(t *testing.T) {
			server := proxy.New(authenticator, sanitize.New(), routing.New(routing.Table{}), log, proxy.WithIOTimeout(time.Second))
			addr := serve(t, server)

			for i := 0; i < 2; i++ {
				conn, err := net.Dial("tcp", addr)
				require.NoError(t, err)
				_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
				require.NoError(t, err)

				resp, err := framing.ReadResponse(conn, 2*time.Second)
				require.NoError(t, err)
				assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
				_ = conn.Close()
			}
		})
	}
}

func TestSaturation(t *testing.T) {
	f := startForwarder(t, routing.Table{"6060": echoBackend(t)}, proxy.WithConcurrency(1, 50*time.Millisecond))

	idle, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer idle.Close()

	conn, err := net.Dial("tcp", f.addr)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := framing.ReadResponse(conn, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, idle.Close())
	token := f.login("u1", "6060")
	assert.Eventually(t, func() bool {
		return f.get("/", token).StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
}
