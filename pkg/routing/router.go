package routing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/nais/vpn-forwarder/pkg/framing"
	"github.com/nais/vpn-forwarder/pkg/types"
)

var (
	ErrRouteMissing       = errors.New("no route for target")
	ErrBackendUnreachable = errors.New("backend refused the connection")
)

// BackendError An I/O fault while talking to a backend. Exchanged reports whether any bytes had been sent or
// received when the fault happened.
type BackendError struct {
	Addr      string
	Exchanged bool
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Addr, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ResponseHook Optional transformation of backend responses. A hook that changes the body must use
// framing.Message.SetBody so Content-Length stays correct.
type ResponseHook func(target types.TargetID, response *framing.Message) error

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Router struct {
	table     Table
	dialer    Dialer
	ioTimeout time.Duration
	hook      ResponseHook
}

type Option func(*Router)

func WithDialer(dialer Dialer) Option {
	return func(r *Router) {
		r.dialer = dialer
	}
}

func WithIOTimeout(timeout time.Duration) Option {
	return func(r *Router) {
		r.ioTimeout = timeout
	}
}

func WithResponseHook(hook ResponseHook) Option {
	return func(r *Router) {
		r.hook = hook
	}
}

func New(table Table, opts ...Option) *Router {
	r := &Router{
		table:     table,
		dialer:    &net.Dialer{Timeout: 10 * time.Second},
		ioTimeout: framing.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Resolve(target types.TargetID) (string, error) {
	addr, ok := r.table.Lookup(target)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrRouteMissing, target)
	}
	return addr, nil
}

// Forward Open a fresh connection to the target's backend, send the request unchanged and frame the response. The
// backend connection is closed before Forward returns.
func (r *Router) Forward(ctx context.Context, target types.TargetID, request *framing.Message) (*framing.Message, error) {
	addr, err := r.Resolve(target)
	if err != nil {
		return nil, err
	}

	conn, err := r.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnreachable, addr, err)
		}
		return nil, &BackendError{Addr: addr, Err: err}
	}
	defer conn.Close()

	if r.ioTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(r.ioTimeout)); err != nil {
			return nil, &BackendError{Addr: addr, Err: err}
		}
	}

	n, err := conn.Write(request.Bytes())
	if err != nil {
		return nil, &BackendError{Addr: addr, Exchanged: n > 0, Err: fmt.Errorf("send request: %w", err)}
	}

	response, err := framing.ReadResponseTo(conn, r.ioTimeout, request.Method)
	if err != nil {
		return nil, &BackendError{Addr: addr, Exchanged: true, Err: fmt.Errorf("receive response: %w", err)}
	}
	if response.Truncated {
		return nil, &BackendError{Addr: addr, Exchanged: true, Err: fmt.Errorf("receive response: %w", framing.ErrTruncated)}
	}

	if r.hook != nil {
		if err := r.hook(target, response); err != nil {
			return nil, fmt.Errorf("response hook: %w", err)
		}
	}

	return response, nil
}
