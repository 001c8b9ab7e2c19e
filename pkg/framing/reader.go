package framing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxHeadSize    = 64 << 10
	readChunkSize  = 4096
)

var (
	ErrTimeout      = errors.New("read timed out")
	ErrTruncated    = errors.New("stream closed before a message was received")
	ErrHeadTooLarge = errors.New("message head too large")
	ErrMalformed    = errors.New("malformed message")
)

var headTerminator = []byte("\r\n\r\n")

// Conn The part of a network connection the framer needs.
type Conn interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

type reader struct {
	conn    Conn
	timeout time.Duration
	buf     []byte
	eof     bool
}

// read Read at most max bytes from the connection into the buffer, under a fresh deadline.
func (r *reader) read(max int) error {
	if max > readChunkSize {
		max = readChunkSize
	}

	if r.timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return err
		}
	}

	chunk := make([]byte, max)
	n, err := r.conn.Read(chunk)
	r.buf = append(r.buf, chunk[:n]...)
	if err == nil {
		if n == 0 {
			r.eof = true
		}
		return nil
	}

	if errors.Is(err, io.EOF) {
		r.eof = true
		return nil
	}

	if isTimeout(err) {
		return ErrTimeout
	}

	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ReadRequest Frame exactly one request from the connection. The returned message holds the head and exactly the
// number of body bytes declared by Content-Length; a request without Content-Length is complete after its head.
func ReadRequest(conn Conn, timeout time.Duration) (*Message, error) {
	return readMessage(conn, timeout, KindRequest, "")
}

// ReadResponse Frame exactly one response from the connection. In addition to Content-Length framing, a response
// without a declared length is read until the peer closes the stream when its head carries "Connection: close",
// and chunked responses are read up to and including their final chunk.
func ReadResponse(conn Conn, timeout time.Duration) (*Message, error) {
	return readMessage(conn, timeout, KindResponse, "")
}

// ReadResponseTo Frame the response to a request made with method. Responses to HEAD, and 1xx, 204 and 304
// responses, end after their head whatever their Content-Length says.
func ReadResponseTo(conn Conn, timeout time.Duration, method string) (*Message, error) {
	return readMessage(conn, timeout, KindResponse, method)
}

// bodiless Responses that never carry a body.
func bodiless(method string, status int) bool {
	return method == http.MethodHead ||
		(status >= 100 && status < 200) ||
		status == http.StatusNoContent ||
		status == http.StatusNotModified
}

func readMessage(conn Conn, timeout time.Duration, kind Kind, method string) (*Message, error) {
	r := &reader{
		conn:    conn,
		timeout: timeout,
		buf:     make([]byte, 0, readChunkSize),
	}

	headEnd := -1
	for headEnd < 0 {
		if r.eof {
			if len(r.buf) == 0 {
				return nil, ErrTruncated
			}
			return truncatedHead(kind, r.buf)
		}
		if len(r.buf) > MaxHeadSize {
			return nil, ErrHeadTooLarge
		}
		if err := r.read(readChunkSize); err != nil {
			return nil, err
		}
		headEnd = bytes.Index(r.buf, headTerminator)
	}

	msg, err := ParseHead(kind, r.buf[:headEnd])
	if err != nil {
		return nil, err
	}

	bodyStart := headEnd + len(headTerminator)
	if kind == KindResponse && bodiless(method, msg.StatusCode) {
		msg.Body = r.buf[bodyStart:bodyStart]
		return msg, nil
	}

	length, declared, err := msg.ContentLength()
	if err != nil {
		return nil, err
	}

	switch {
	case declared:
		for len(r.buf)-bodyStart < length && !r.eof {
			if err := r.read(length - (len(r.buf) - bodyStart)); err != nil {
				return nil, err
			}
		}
		end := bodyStart + length
		if end > len(r.buf) {
			end = len(r.buf)
			msg.Truncated = true
		}
		msg.Body = r.buf[bodyStart:end]

	case kind == KindResponse && msg.chunked():
		for {
			n, complete, err := chunkedLength(r.buf[bodyStart:])
			if err != nil {
				return nil, err
			}
			if complete {
				msg.Body = r.buf[bodyStart : bodyStart+n]
				break
			}
			if r.eof {
				msg.Body = r.buf[bodyStart:]
				msg.Truncated = true
				break
			}
			if err := r.read(readChunkSize); err != nil {
				return nil, err
			}
		}

	case kind == KindResponse && msg.closeDelimited():
		for !r.eof {
			if err := r.read(readChunkSize); err != nil {
				return nil, err
			}
		}
		msg.Body = r.buf[bodyStart:]

	default:
		msg.Body = r.buf[bodyStart:bodyStart]
	}

	return msg, nil
}

// truncatedHead Best effort parse of a head that was cut short by the peer.
func truncatedHead(kind Kind, buf []byte) (*Message, error) {
	head := bytes.TrimRight(buf, "\r\n")
	msg, err := ParseHead(kind, head)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	msg.Body = []byte{}
	msg.Truncated = true
	return msg, nil
}

// chunkedLength Scan a chunked body. Returns the length of the encoded body including the last chunk and trailer
// section once it is complete.
func chunkedLength(body []byte) (int, bool, error) {
	pos := 0
	for {
		lineEnd := bytes.Index(body[pos:], []byte(crlf))
		if lineEnd < 0 {
			return 0, false, nil
		}
		sizeField := body[pos : pos+lineEnd]
		if ext := bytes.IndexByte(sizeField, ';'); ext >= 0 {
			sizeField = sizeField[:ext]
		}
		size, err := strconv.ParseInt(string(bytes.TrimSpace(sizeField)), 16, 64)
		if err != nil || size < 0 {
			return 0, false, fmt.Errorf("%w: chunk size %q", ErrMalformed, sizeField)
		}
		pos += lineEnd + len(crlf)

		if size == 0 {
			// Trailer section ends with an empty line.
			for {
				lineEnd = bytes.Index(body[pos:], []byte(crlf))
				if lineEnd < 0 {
					return 0, false, nil
				}
				pos += lineEnd + len(crlf)
				if lineEnd == 0 {
					return pos, true, nil
				}
			}
		}

		if int64(len(body)-pos) < size+int64(len(crlf)) {
			return 0, false, nil
		}
		pos += int(size) + len(crlf)
	}
}
