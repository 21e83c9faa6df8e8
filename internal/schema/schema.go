// ABOUTME: Wire contract for the NLWeb protocol: Ask/Who request and response shapes.
// ABOUTME: Pure data plus validation and protocol version negotiation, no behavior.

package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ProtocolVersion is the version stamped on every request and response.
const ProtocolVersion = "1.0"

// majorVersion is the only major version this server speaks.
const majorVersion = 1

// ErrValidation indicates a malformed request that never reaches the
// registry or dispatcher.
var ErrValidation = errors.New("validation error")

// ErrUnsupportedVersion indicates a protocol major version this server
// does not speak. Checked before any other processing.
var ErrUnsupportedVersion = errors.New("unsupported protocol version")

// Stable error codes carried in error responses.
const (
	CodeValidation         = "VALIDATION"
	CodeNotFound           = "NOT_FOUND"
	CodeDuplicateProvider  = "DUPLICATE_PROVIDER"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"
	CodeInternal           = "INTERNAL"
)

// Overall and per-provider terminal statuses.
const (
	StatusOK      = "OK"
	StatusPartial = "PARTIAL"
	StatusError   = "ERROR"
	StatusTimeout = "TIMEOUT"
)

// AskRequest is the body for POST /nlweb/ask.
type AskRequest struct {
	Version       string            `json:"version"`
	Query         string            `json:"query"`
	Constraints   map[string]string `json:"constraints,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// Validate checks the request shape. The query must be non-empty and
// constraint keys must be well-formed tag names.
func (r *AskRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	for k := range r.Constraints {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: constraint keys must be non-empty", ErrValidation)
		}
	}
	return nil
}

// ResultItem is a single answer produced by a provider. The payload is an
// opaque envelope; PayloadSchema tags its provider-defined shape so
// consumers can pattern-match instead of duck-typing.
type ResultItem struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	PayloadSchema  string          `json:"payloadSchema,omitempty"`
	Confidence     float64         `json:"confidence"`
	SourceProvider string          `json:"sourceProvider"`
	OrderHint      int             `json:"orderHint,omitempty"`
}

// Identity returns the deduplication key component for the item. Items
// without an explicit id fall back to their title.
func (i *ResultItem) Identity() string {
	if i.ID != "" {
		return i.ID
	}
	return i.Title
}

// AskResponse is the aggregated result of one Ask call.
type AskResponse struct {
	Version            string       `json:"version"`
	CorrelationID      string       `json:"correlationId"`
	Items              []ResultItem `json:"items"`
	ProvidersConsulted []string     `json:"providersConsulted"`
	ProvidersFailed    []string     `json:"providersFailed"`
	Status             string       `json:"status"`
}

// StreamChunk is one incremental batch of items on a streaming Ask.
type StreamChunk struct {
	Items []ResultItem `json:"items"`
}

// StreamSummary terminates a streaming Ask and carries the same metadata
// as the non-streaming response.
type StreamSummary struct {
	Version            string   `json:"version"`
	CorrelationID      string   `json:"correlationId"`
	ProvidersConsulted []string `json:"providersConsulted"`
	ProvidersFailed    []string `json:"providersFailed"`
	Status             string   `json:"status"`
}

// WhoRequest is the body for POST /nlweb/who.
type WhoRequest struct {
	Version string `json:"version"`
	Query   string `json:"query"`
}

// Validate checks that the query is non-empty.
func (r *WhoRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	return nil
}

// CapabilityMatch is one scored provider candidate in a Who response.
type CapabilityMatch struct {
	ProviderID          string   `json:"providerId"`
	Name                string   `json:"name"`
	Score               float64  `json:"score"`
	MatchedCapabilities []string `json:"matchedCapabilities"`
}

// WhoResponse is the ranked provider list for a Who call.
type WhoResponse struct {
	Version string            `json:"version"`
	Matches []CapabilityMatch `json:"matches"`
}

// RegisterProviderRequest is the administrative registration body.
// The id is optional; the server assigns one when absent.
type RegisterProviderRequest struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
}

// Validate checks registration fields, including that the endpoint is an
// absolute http(s) URL.
func (r *RegisterProviderRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(r.Capabilities) == 0 {
		return fmt.Errorf("%w: at least one capability is required", ErrValidation)
	}
	for _, c := range r.Capabilities {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("%w: capabilities must be non-empty", ErrValidation)
		}
	}
	u, err := url.Parse(r.Endpoint)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an absolute http(s) URL", ErrValidation)
	}
	return nil
}

// ErrorResponse is the body returned for validation and version failures.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// CheckVersion validates the version field of an incoming request.
// An empty version is accepted as the current version; a parseable version
// with a different major number is rejected.
func CheckVersion(version string) error {
	if version == "" {
		return nil
	}
	major, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return fmt.Errorf("%w: malformed version %q", ErrUnsupportedVersion, version)
	}
	if n != majorVersion {
		return fmt.Errorf("%w: major version %d not supported (server speaks %s)", ErrUnsupportedVersion, n, ProtocolVersion)
	}
	return nil
}
