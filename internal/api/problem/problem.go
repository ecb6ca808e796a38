// Package problem renders RFC 7807 error bodies for the ops surface.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	ContentType = "application/problem+json"
	typeBase    = "https://errors.settlement.local/"
)

const (
	DependencyUnavailable = "dependency-unavailable"
	QueueUnavailable      = "queue-unavailable"
	RateLimited           = "rate-limit-exceeded"
	Internal              = "internal-server-error"
)

type Details struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Type expands a slug into its type URI. Absolute URIs pass through.
func Type(slug string) string {
	switch {
	case slug == "":
		return "about:blank"
	case slug == "about:blank", strings.HasPrefix(slug, "http"):
		return slug
	}
	return typeBase + slug
}

func New(status int, slug, detail string) Details {
	return Details{
		Type:   Type(slug),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// Write sends d. Instance and TraceID are filled from the request when unset.
func Write(w http.ResponseWriter, r *http.Request, d Details) {
	if d.Instance == "" && r != nil {
		d.Instance = r.URL.Path
	}
	if d.TraceID == "" {
		d.TraceID = w.Header().Get("X-Trace-ID")
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
