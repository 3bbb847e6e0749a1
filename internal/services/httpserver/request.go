package httpserver

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Request is the handler-facing view of an inbound HTTP request: method,
// path and host are normalized, query and header keys are folded to
// lowercase, and Body is decoded according to Content-Type.
type Request struct {
	ID       string
	Method   string
	Path     string
	Host     string
	Query    map[string]string
	Headers  map[string]string
	Body     any
	RawBody  []byte
	PeerAddr string
}

func newRequest(r *http.Request) *Request {
	req := &Request{
		ID:       uuid.NewString(),
		Method:   strings.ToUpper(r.Method),
		Path:     r.URL.Path,
		Host:     r.Host,
		Query:    make(map[string]string),
		Headers:  make(map[string]string),
		PeerAddr: r.RemoteAddr,
	}
	if !strings.HasPrefix(req.Path, "/") {
		req.Path = "/" + req.Path
	}

	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			req.Query[strings.ToLower(k)] = v[0]
		}
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			req.Headers[strings.ToLower(k)] = v[0]
		}
	}

	if r.Body != nil {
		if raw, err := io.ReadAll(r.Body); err == nil {
			req.RawBody = raw
		}
	}
	req.Body = decodeBody(req.Headers["content-type"], req.RawBody)

	return req
}

// decodeBody implements spec §4.5's body-decoding table.
func decodeBody(contentType string, raw []byte) any {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch mediaType {
	case "application/json":
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
		return string(raw)

	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return string(raw)
		}
		out := make(map[string]string, len(values))
		for k, v := range values {
			if len(v) > 0 {
				out[strings.ToLower(k)] = v[0]
			}
		}
		return out

	case "text/plain":
		return string(raw)

	default:
		if isValidUTF8(raw) {
			return string(raw)
		}
		return raw
	}
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
