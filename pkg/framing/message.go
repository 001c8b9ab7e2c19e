package framing

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindRequest Kind = iota
	KindResponse
)

// Header A single header line. The raw line is kept so that untouched headers are relayed exactly as they were
// received.
type Header struct {
	Name  string
	Value string
	raw   string
}

func (h Header) line() string {
	if h.raw != "" {
		return h.raw
	}
	return h.Name + ": " + h.Value
}

// Headers An ordered list of header lines. Lookups are case-insensitive.
type Headers []Header

func (h Headers) Get(name string) string {
	for _, header := range h {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func (h Headers) Has(name string) bool {
	for _, header := range h {
		if strings.EqualFold(header.Name, name) {
			return true
		}
	}
	return false
}

func (h Headers) Values(name string) []string {
	values := make([]string, 0)
	for _, header := range h {
		if strings.EqualFold(header.Name, name) {
			values = append(values, header.Value)
		}
	}
	return values
}

// Del Remove all header lines with the given name. Returns the number of removed lines.
func (h *Headers) Del(name string) int {
	kept := (*h)[:0]
	removed := 0
	for _, header := range *h {
		if strings.EqualFold(header.Name, name) {
			removed++
			continue
		}
		kept = append(kept, header)
	}
	*h = kept
	return removed
}

// Set Replace the value of the first header line with the given name and remove any duplicates, or append a new
// line if the header is not present.
func (h *Headers) Set(name, value string) {
	for i, header := range *h {
		if strings.EqualFold(header.Name, name) {
			(*h)[i] = Header{Name: header.Name, Value: value}
			rest := (*h)[i+1:]
			rest.Del(name)
			*h = append((*h)[:i+1], rest...)
			return
		}
	}
	*h = append(*h, Header{Name: name, Value: value})
}

func (h Headers) Clone() Headers {
	return append(Headers(nil), h...)
}

// Message One complete HTTP/1.x message as framed off a stream.
type Message struct {
	Kind Kind

	// Request line
	Method string
	Target string

	// Status line
	StatusCode int
	Reason     string

	Proto   string
	Headers Headers
	Body    []byte

	// Truncated is set when the peer closed the stream before the message was complete.
	Truncated bool

	startLine string
}

// Path The request target without its query string.
func (m *Message) Path() string {
	if i := strings.IndexByte(m.Target, '?'); i >= 0 {
		return m.Target[:i]
	}
	return m.Target
}

// SetTarget Replace the request target and rebuild the request line.
func (m *Message) SetTarget(target string) {
	if target == m.Target {
		return
	}
	m.Target = target
	m.startLine = ""
}

// ContentLength The declared body length. The second return value is false when the header is absent.
func (m *Message) ContentLength() (int, bool, error) {
	value := m.Headers.Get("Content-Length")
	if value == "" && !m.Headers.Has("Content-Length") {
		return 0, false, nil
	}

	length, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || length < 0 {
		return 0, true, fmt.Errorf("%w: invalid content length %q", ErrMalformed, value)
	}
	return length, true, nil
}

// SetBody Replace the body and recompute Content-Length to match.
func (m *Message) SetBody(body []byte) {
	m.Body = body
	m.Headers.Del("Transfer-Encoding")
	m.Headers.Set("Content-Length", strconv.Itoa(len(body)))
}

func (m *Message) StartLine() string {
	if m.startLine != "" {
		return m.startLine
	}
	if m.Kind == KindResponse {
		return fmt.Sprintf("%s %d %s", m.Proto, m.StatusCode, m.Reason)
	}
	return fmt.Sprintf("%s %s %s", m.Method, m.Target, m.Proto)
}

// Bytes Serialize the message. A message that has not been modified since it was parsed serializes to the exact
// bytes it was framed from.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(256 + len(m.Body))
	buf.WriteString(m.StartLine())
	buf.WriteString(crlf)
	for _, header := range m.Headers {
		buf.WriteString(header.line())
		buf.WriteString(crlf)
	}
	buf.WriteString(crlf)
	buf.Write(m.Body)
	return buf.Bytes()
}

func (m *Message) closeDelimited() bool {
	for _, value := range m.Headers.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "close") {
				return true
			}
		}
	}
	return false
}

func (m *Message) chunked() bool {
	for _, value := range m.Headers.Values("Transfer-Encoding") {
		if strings.Contains(strings.ToLower(value), "chunked") {
			return true
		}
	}
	return false
}

const crlf = "\r\n"

// ParseHead Parse a message head, without the terminating empty line.
func ParseHead(kind Kind, head []byte) (*Message, error) {
	lines := strings.Split(string(head), crlf)
	msg := &Message{
		Kind:      kind,
		startLine: lines[0],
		Headers:   make(Headers, 0, len(lines)-1),
	}

	var err error
	if kind == KindRequest {
		err = msg.parseRequestLine(lines[0])
	} else {
		err = msg.parseStatusLine(lines[0])
	}
	if err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return nil, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		msg.Headers = append(msg.Headers, Header{
			Name:  strings.TrimSpace(line[:colon]),
			Value: strings.TrimSpace(line[colon+1:]),
			raw:   line,
		})
	}

	return msg, nil
}

func (m *Message) parseRequestLine(line string) error {
	parts := strings.Split(line, " ")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: request line %q", ErrMalformed, line)
	}
	m.Method = parts[0]
	m.Target = parts[1]
	m.Proto = parts[2]
	return nil
}

func (m *Message) parseStatusLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return fmt.Errorf("%w: status line %q", ErrMalformed, line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("%w: status code %q", ErrMalformed, parts[1])
	}
	m.Proto = parts[0]
	m.StatusCode = code
	if len(parts) == 3 {
		m.Reason = parts[2]
	}
	return nil
}
