package portal

import (
	"bytes"
	"mime"
	"net/http"
	"strings"
)

// SessionState tracks where the client is in its login/download cycle.
type SessionState int

const (
	LoggedOut SessionState = iota
	Authenticating
	Authenticated
	Downloading
)

func (s SessionState) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Downloading:
		return "downloading"
	default:
		return "unknown"
	}
}

// ExpiryDetector decides whether a download response is the login page rather than an
// export. The portal answers 200 in both cases.
type ExpiryDetector interface {
	Expired(resp *http.Response, body []byte) bool
}

// LoginPageDetector flags responses that landed on the login path, carry an HTML content
// type, or contain the login form's password field.
type LoginPageDetector struct {
	LoginPath string
}

func (d LoginPageDetector) Expired(resp *http.Response, body []byte) bool {
	if resp == nil {
		return false
	}
	loginPath := d.LoginPath
	if loginPath == "" {
		loginPath = defaultLoginPath
	}
	if resp.Request != nil && resp.Request.URL != nil &&
		strings.Contains(strings.ToLower(resp.Request.URL.Path), strings.ToLower(loginPath)) {
		return true
	}
	if isHTML(resp.Header.Get("Content-Type")) {
		return true
	}
	return bytes.Contains(body, []byte(`name="`+fieldPassword+`"`))
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
