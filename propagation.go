package causez

import (
	"encoding/base64"
	"net/http"
)

// MetadataHeader carries base64-encoded metadata bytes in HTTP requests.
const MetadataHeader = "X-Causez-Metadata"

// Inject writes the metadata in cell to h. Does nothing for an empty cell.
func Inject(h http.Header, cell *Cell) {
	if cell == nil {
		return
	}
	data := cell.Bytes()
	if data == nil {
		return
	}
	h.Set(MetadataHeader, base64.StdEncoding.EncodeToString(data))
}

// Extract joins the metadata carried in h into cell and reports whether a
// usable value was found. Malformed headers are ignored.
func Extract(h http.Header, cell *Cell) bool {
	if cell == nil {
		return false
	}
	v := h.Get(MetadataHeader)
	if v == "" {
		return false
	}
	data, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return false
	}
	if _, err := ParseMetadata(data); err != nil {
		return false
	}
	cell.JoinBytes(data)
	return true
}

// Middleware gives every request its own Cell, seeded from the request
// headers, before calling next.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cell := NewContext(r.Context(), r.Method+" "+r.URL.Path)
		Extract(r.Header, cell)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RoundTripper injects the metadata of the request context into outgoing
// requests.
type RoundTripper struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := rt.Base
	if base == nil {
		base = http.DefaultTransport
	}
	cell := CellFrom(req.Context())
	if cell == nil || !cell.Exists() {
		return base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	Inject(clone.Header, cell)
	return base.RoundTrip(clone)
}
