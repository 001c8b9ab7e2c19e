package proxy

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
)

// errorResponse A complete HTTP/1.1 error response with a minimal HTML body naming the status. The connection is
// always closed afterwards.
func errorResponse(status int, detail string) []byte {
	reason := http.StatusText(status)
	body := fmt.Sprintf("<html><head><title>%d %s</title></head><body><h1>%d %s</h1>%s</body></html>\n",
		status, reason, status, reason, detail)

	return []byte("HTTP/1.1 " + strconv.Itoa(status) + " " + reason + "\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n" +
		"\r\n" + body)
}

func unauthorizedResponse(loginURL string) []byte {
	detail := "<p>Authentication required.</p>"
	if loginURL != "" {
		detail = fmt.Sprintf(`<p>Authentication required. <a href="%s">Sign in</a> to continue.</p>`, html.EscapeString(loginURL))
	}
	return errorResponse(http.StatusUnauthorized, detail)
}
