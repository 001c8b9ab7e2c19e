package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nais/vpn-forwarder/pkg/authn"
	"github.com/nais/vpn-forwarder/pkg/framing"
	"github.com/nais/vpn-forwarder/pkg/logger"
	"github.com/nais/vpn-forwarder/pkg/metrics"
	"github.com/nais/vpn-forwarder/pkg/routing"
	"github.com/nais/vpn-forwarder/pkg/sanitize"
	"github.com/nais/vpn-forwarder/pkg/types"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxConnections = 1024
	DefaultQueueTimeout   = 5 * time.Second

	maxAcceptBackoff = time.Second
)

type Authenticator interface {
	Authenticate(ctx context.Context, request *framing.Message) (*authn.Identity, error)
}

type Router interface {
	Forward(ctx context.Context, target types.TargetID, request *framing.Message) (*framing.Message, error)
}

// Server Accepts client connections and relays one authenticated request per connection to the backend of the
// requesting user.
type Server struct {
	authenticator Authenticator
	sanitizer     *sanitize.Sanitizer
	router        Router
	log           logger.Logger

	loginURL      string
	excludedPaths map[string]struct{}
	ioTimeout     time.Duration
	queueTimeout  time.Duration
	slots         *semaphore.Weighted

	handlers sync.WaitGroup
}

type Option func(*Server)

func WithLoginURL(loginURL string) Option {
	return func(s *Server) {
		s.loginURL = loginURL
	}
}

// WithExcludedPaths Paths answered with 404 before authentication.
func WithExcludedPaths(paths ...string) Option {
	return func(s *Server) {
		s.excludedPaths = make(map[string]struct{}, len(paths))
		for _, path := range paths {
			s.excludedPaths[path] = struct{}{}
		}
	}
}

func WithIOTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ioTimeout = timeout
	}
}

// WithConcurrency Handle at most maxConnections connections at a time. A connection that cannot get a slot within
// queueTimeout is answered with 503.
func WithConcurrency(maxConnections int64, queueTimeout time.Duration) Option {
	return func(s *Server) {
		s.slots = semaphore.NewWeighted(maxConnections)
		s.queueTimeout = queueTimeout
	}
}

func New(authenticator Authenticator, sanitizer *sanitize.Sanitizer, router Router, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		authenticator: authenticator,
		sanitizer:     sanitizer,
		router:        router,
		log:           log.WithComponent(types.ComponentNameForwarder),
		excludedPaths: map[string]struct{}{"/favicon.ico": {}},
		ioTimeout:     framing.DefaultTimeout,
		queueTimeout:  DefaultQueueTimeout,
		slots:         semaphore.NewWeighted(DefaultMaxConnections),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve Accept connections until ctx is cancelled, then wait for in-flight connections to finish. Failing accepts
// are logged and retried.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = listener.Close()
	}()

	s.log.Infof("accepting connections on %s", listener.Addr())

	// In-flight requests run to completion after shutdown starts.
	handlerCtx := context.WithoutCancel(ctx)

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("stopped accepting connections, waiting for in-flight requests")
				s.handlers.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.handlers.Wait()
				return err
			}

			backoff = nextBackoff(backoff)
			s.log.WithError(err).Warnf("accept failed, retrying in %s", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0
		metrics.IncConnectionsAccepted()

		if !s.acquire(ctx) {
			metrics.IncConnectionsRejected()
			s.log.WithField("remote", conn.RemoteAddr().String()).Warn("all handler slots busy, rejecting connection")
			s.reject(conn)
			continue
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.slots.Release(1)
			s.Handle(handlerCtx, conn)
		}()
	}
}

func (s *Server) acquire(ctx context.Context) bool {
	if s.slots.TryAcquire(1) {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()
	return s.slots.Acquire(ctx, 1) == nil
}

func (s *Server) reject(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(s.ioTimeout))
	_, _ = conn.Write(errorResponse(http.StatusServiceUnavailable, ""))
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return 5 * time.Millisecond
	}
	current *= 2
	if current > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return current
}

// Handle Serve a single client connection: frame one request, authenticate it, strip its credentials and relay it
// to the user's backend. Every failure is answered with an error response, except unreadable input which closes
// the connection silently. The connection is always closed on return.
func (s *Server) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer metrics.TrackConnection()()

	log := s.log.WithConnection(uuid.New(), conn.RemoteAddr().String())

	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("recovered from panic: %v", r)
			metrics.IncRequests(metrics.RequestOutcomeInternalError)
			s.write(log, conn, errorResponse(http.StatusInternalServerError, ""))
		}
	}()

	request, err := framing.ReadRequest(conn, s.ioTimeout)
	if err != nil {
		metrics.IncRequests(metrics.RequestOutcomeAborted)
		log.WithError(err).Debug("unable to read request")
		return
	}
	if request.Truncated {
		metrics.IncRequests(metrics.RequestOutcomeAborted)
		log.Debug("client closed the connection before the request was complete")
		return
	}

	log = log.WithRequest(request.Method, request.Path())

	if _, excluded := s.excludedPaths[request.Path()]; excluded {
		metrics.IncRequests(metrics.RequestOutcomeExcluded)
		s.write(log, conn, errorResponse(http.StatusNotFound, ""))
		return
	}

	identity, err := s.authenticator.Authenticate(ctx, request)
	if err != nil {
		if reason, ok := authFailureReason(err); ok {
			metrics.IncAuthFailures(reason)
			metrics.IncRequests(metrics.RequestOutcomeUnauthorized)
			log.WithField("reason", reason).Info("rejected unauthenticated request")
			s.write(log, conn, unauthorizedResponse(s.loginURL))
			return
		}
		metrics.IncRequests(metrics.RequestOutcomeInternalError)
		log.WithError(err).Error("authenticate request")
		s.write(log, conn, errorResponse(http.StatusInternalServerError, ""))
		return
	}

	log = log.WithUser(identity.Username).WithSession(identity.SessionID).WithTarget(identity.TargetID)

	s.sanitizer.Sanitize(request)

	start := time.Now()
	response, err := s.router.Forward(ctx, identity.TargetID, request)
	if err != nil {
		status, outcome := statusForRouteError(err)
		metrics.ObserveBackendDuration(identity.TargetID.String(), 0, time.Since(start))
		metrics.IncRequests(outcome)
		log.WithError(err).Warnf("relay failed, answering %d", status)
		s.write(log, conn, errorResponse(status, ""))
		return
	}
	metrics.ObserveBackendDuration(identity.TargetID.String(), response.StatusCode, time.Since(start))

	if s.write(log, conn, response.Bytes()) {
		metrics.IncRequests(metrics.RequestOutcomeRelayed)
		log.WithField("status", response.StatusCode).Info("relayed request")
	}
}

func (s *Server) write(log logger.Logger, conn net.Conn, data []byte) bool {
	if s.ioTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.ioTimeout)); err != nil {
			log.WithError(err).Debug("set write deadline")
		}
	}
	if _, err := conn.Write(data); err != nil {
		log.WithError(err).Debug("write response")
		return false
	}
	return true
}

func authFailureReason(err error) (string, bool) {
	switch {
	case errors.Is(err, authn.ErrCredentialMissing):
		return "credential_missing", true
	case errors.Is(err, authn.ErrCredentialInvalid):
		return "credential_invalid", true
	case errors.Is(err, authn.ErrSessionNotFound):
		return "session_not_found", true
	}
	return "", false
}

func statusForRouteError(err error) (int, metrics.RequestOutcome) {
	var backendErr *routing.BackendError
	switch {
	case errors.Is(err, routing.ErrRouteMissing):
		return http.StatusInternalServerError, metrics.RequestOutcomeRouteMissing
	case errors.Is(err, routing.ErrBackendUnreachable):
		return http.StatusServiceUnavailable, metrics.RequestOutcomeUnreachable
	case errors.As(err, &backendErr) && backendErr.Exchanged:
		return http.StatusBadGateway, metrics.RequestOutcomeBackendError
	}
	return http.StatusInternalServerError, metrics.RequestOutcomeInternalError
}
