package sanitize

import (
	"strings"

	"github.com/nais/vpn-forwarder/pkg/credentials"
	"github.com/nais/vpn-forwarder/pkg/framing"
)

// Sanitizer Removes credential material from requests before they leave the forwarder.
type Sanitizer struct {
	headers        []string
	cookie         string
	queryParameter string
}

// New A sanitizer that strips the Authorization header, the auth cookie, the auth query parameter and every header
// in extraHeaders.
func New(extraHeaders ...string) *Sanitizer {
	headers := []string{"Authorization"}
	for _, header := range extraHeaders {
		if header = strings.TrimSpace(header); header != "" {
			headers = append(headers, header)
		}
	}
	return &Sanitizer{
		headers:        headers,
		cookie:         credentials.CookieName,
		queryParameter: credentials.QueryParameter,
	}
}

// Sanitize Strip credentials from request in place. Applying it more than once has no further effect. Returns the
// number of removed credential carriers.
func (s *Sanitizer) Sanitize(request *framing.Message) int {
	removed := 0
	for _, header := range s.headers {
		removed += request.Headers.Del(header)
	}
	removed += s.stripCookies(request)
	removed += s.stripQuery(request)
	return removed
}

func (s *Sanitizer) stripCookies(request *framing.Message) int {
	removed := 0
	headers := make(framing.Headers, 0, len(request.Headers))
	for _, header := range request.Headers {
		if !strings.EqualFold(header.Name, "Cookie") {
			headers = append(headers, header)
			continue
		}

		pairs := strings.Split(header.Value, ";")
		kept := make([]string, 0, len(pairs))
		dropped := 0
		for _, pair := range pairs {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, _, _ := strings.Cut(pair, "=")
			if strings.TrimSpace(name) == s.cookie {
				dropped++
				continue
			}
			kept = append(kept, pair)
		}

		removed += dropped
		if dropped == 0 {
			headers = append(headers, header)
			continue
		}
		if len(kept) > 0 {
			headers = append(headers, framing.Header{Name: header.Name, Value: strings.Join(kept, "; ")})
		}
	}
	request.Headers = headers
	return removed
}

func (s *Sanitizer) stripQuery(request *framing.Message) int {
	path, rawQuery, found := strings.Cut(request.Target, "?")
	if !found {
		return 0
	}

	removed := 0
	pairs := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		name, _, _ := strings.Cut(pair, "=")
		if name == s.queryParameter {
			removed++
			continue
		}
		kept = append(kept, pair)
	}

	if removed == 0 {
		return 0
	}
	if len(kept) == 0 {
		request.SetTarget(path)
	} else {
		request.SetTarget(path + "?" + strings.Join(kept, "&"))
	}
	return removed
}
