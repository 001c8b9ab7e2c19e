package authn

import (
	"net/url"
	"strings"

	"github.com/nais/vpn-forwarder/pkg/credentials"
	"github.com/nais/vpn-forwarder/pkg/framing"
)

// Extractor Finds a raw credential in one carrier position of a request.
type Extractor interface {
	Source() string
	Extract(request *framing.Message) (string, bool)
}

// Chain Extractors tried in order. The first one that finds a credential wins.
type Chain []Extractor

// DefaultChain Authorization bearer, auth cookie, custom header, query parameter.
func DefaultChain(authHeader string) Chain {
	return Chain{
		BearerExtractor{},
		CookieExtractor{Cookie: credentials.CookieName},
		HeaderExtractor{Header: authHeader},
		QueryExtractor{Parameter: credentials.QueryParameter},
	}
}

// Extract Return the first credential found and the name of the carrier it came from.
func (c Chain) Extract(request *framing.Message) (string, string, bool) {
	for _, extractor := range c {
		if token, ok := extractor.Extract(request); ok {
			return token, extractor.Source(), true
		}
	}
	return "", "", false
}

type BearerExtractor struct{}

func (BearerExtractor) Source() string {
	return "bearer"
}

func (BearerExtractor) Extract(request *framing.Message) (string, bool) {
	for _, value := range request.Headers.Values("Authorization") {
		scheme, token, found := strings.Cut(strings.TrimSpace(value), " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			continue
		}
		token = strings.TrimSpace(token)
		if token != "" {
			return token, true
		}
	}
	return "", false
}

type CookieExtractor struct {
	Cookie string
}

func (e CookieExtractor) Source() string {
	return "cookie"
}

func (e CookieExtractor) Extract(request *framing.Message) (string, bool) {
	for _, line := range request.Headers.Values("Cookie") {
		for _, pair := range strings.Split(line, ";") {
			name, value, found := strings.Cut(strings.TrimSpace(pair), "=")
			if found && name == e.Cookie && value != "" {
				return strings.Trim(value, `"`), true
			}
		}
	}
	return "", false
}

type HeaderExtractor struct {
	Header string
}

func (e HeaderExtractor) Source() string {
	return "header"
}

func (e HeaderExtractor) Extract(request *framing.Message) (string, bool) {
	if e.Header == "" {
		return "", false
	}
	token := strings.TrimSpace(request.Headers.Get(e.Header))
	return token, token != ""
}

type QueryExtractor struct {
	Parameter string
}

func (e QueryExtractor) Source() string {
	return "query"
}

func (e QueryExtractor) Extract(request *framing.Message) (string, bool) {
	_, rawQuery, found := strings.Cut(request.Target, "?")
	if !found {
		return "", false
	}

	for _, pair := range strings.Split(rawQuery, "&") {
		name, value, _ := strings.Cut(pair, "=")
		if name != e.Parameter || value == "" {
			continue
		}
		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}
		return value, true
	}
	return "", false
}
