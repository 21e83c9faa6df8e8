// ABOUTME: HTTP handlers for the NLWeb protocol and provider admin API.
// ABOUTME: POST /nlweb/ask with optional SSE streaming, /nlweb/who, /api/providers.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nlweb/nlweb-gateway/internal/aggregate"
	"github.com/nlweb/nlweb-gateway/internal/registry"
	"github.com/nlweb/nlweb-gateway/internal/schema"
)

// ProviderInfoResponse is the JSON shape for provider admin reads.
type ProviderInfoResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
	Health       string   `json:"health"`
	LastSeen     string   `json:"lastSeen"`
}

// UpdateHealthRequest is the JSON body for PUT /api/providers/{id}/health.
type UpdateHealthRequest struct {
	Health string `json:"health"`
}

// handleAsk handles POST /nlweb/ask requests.
// The query is classified, fanned out to matching providers, and the
// aggregated result is returned as JSON, or as an SSE stream of chunk
// events followed by a summary event when stream is set.
func (g *Gateway) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req schema.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeValidation, "invalid JSON body")
		return
	}

	if err := schema.CheckVersion(req.Version); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeUnsupportedVersion, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeValidation, err.Error())
		return
	}

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}

	if req.Stream {
		g.streamAsk(w, r, &req)
		return
	}

	// A client retrying the same correlation id and query within the cache
	// TTL gets the prior aggregated response without a second fan-out.
	if cached, ok := g.respCache.Get(req.CorrelationID, req.Query); ok {
		g.metrics.RecordCacheHit()
		g.logger.Debug("ask served from response cache", "correlation_id", req.CorrelationID)
		g.writeJSON(w, http.StatusOK, cached)
		return
	}

	resp := g.buildResponse(r.Context(), &req)
	if r.Context().Err() != nil {
		return
	}

	g.respCache.Put(req.CorrelationID, req.Query, resp)
	g.metrics.RecordAsk(resp.Status)
	g.writeJSON(w, http.StatusOK, resp)
}

// streamAsk answers an ask over SSE. The full fan-out completes before the
// first chunk is written, so the concatenated chunk items are exactly the
// items a non-streaming call would have returned, in the same order.
func (g *Gateway) streamAsk(w http.ResponseWriter, r *http.Request, req *schema.AskRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, schema.CodeInternal, "streaming not supported")
		return
	}

	resp := g.buildResponse(r.Context(), req)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if r.Context().Err() != nil {
		g.writeSSEEvent(w, "error", schema.ErrorResponse{Code: schema.CodeInternal, Error: "request cancelled"})
		flusher.Flush()
		return
	}

	for _, chunk := range aggregate.Chunks(resp.Items) {
		g.writeSSEEvent(w, "chunk", chunk)
		flusher.Flush()
	}

	g.writeSSEEvent(w, "summary", schema.StreamSummary{
		Version:            resp.Version,
		CorrelationID:      resp.CorrelationID,
		ProvidersConsulted: resp.ProvidersConsulted,
		ProvidersFailed:    resp.ProvidersFailed,
		Status:             resp.Status,
	})
	flusher.Flush()

	g.metrics.RecordAsk(resp.Status)
}

// handleWho handles POST /nlweb/who requests.
// Returns the ranked provider candidates for the query without contacting
// any provider.
func (g *Gateway) handleWho(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req schema.WhoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeValidation, "invalid JSON body")
		return
	}

	if err := schema.CheckVersion(req.Version); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeUnsupportedVersion, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeValidation, err.Error())
		return
	}

	matches := g.matcher.Match(req.Query, g.registry.List(registry.Filter{}))
	// A zero limit means unbounded, not empty.
	if max := g.config.Ask.MaxWhoResults; max > 0 && len(matches) > max {
		matches = matches[:max]
	}

	resp := schema.WhoResponse{
		Version: schema.ProtocolVersion,
		Matches: make([]schema.CapabilityMatch, len(matches)),
	}
	for i, m := range matches {
		resp.Matches[i] = schema.CapabilityMatch{
			ProviderID:          m.Provider.ID,
			Name:                m.Provider.Name,
			Score:               m.Score,
			MatchedCapabilities: m.MatchedCapabilities,
		}
	}

	g.metrics.RecordWho()
	g.writeJSON(w, http.StatusOK, resp)
}

// handleProviders routes /api/providers requests by HTTP method.
func (g *Gateway) handleProviders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListProviders(w, r)
	case http.MethodPost:
		g.handleRegisterProvider(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListProviders handles GET /api/providers.
// Supports optional ?capability=X query parameter to filter by capability.
func (g *Gateway) handleListProviders(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{Capability: r.URL.Query().Get("capability")}

	providers := g.registry.List(filter)
	response := make([]ProviderInfoResponse, 0, len(providers))
	for _, p := range providers {
		response = append(response, providerInfo(p))
	}

	g.writeJSON(w, http.StatusOK, response)
}

// handleRegisterProvider handles POST /api/providers.
func (g *Gateway) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req schema.RegisterProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeValidation, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeValidation, err.Error())
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	p := registry.Provider{
		ID:           req.ID,
		Name:         req.Name,
		Capabilities: req.Capabilities,
		Endpoint:     req.Endpoint,
	}
	if err := g.registry.Register(r.Context(), p); err != nil {
		if errors.Is(err, registry.ErrDuplicateProvider) {
			g.sendJSONError(w, http.StatusConflict, schema.CodeDuplicateProvider,
				fmt.Sprintf("provider %q already registered", req.ID))
			return
		}
		g.logger.Error("failed to register provider", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, schema.CodeInternal, "internal server error")
		return
	}

	g.metrics.SetRegisteredProviders(g.registry.Len())

	registered, _ := g.registry.Get(req.ID)
	g.writeJSON(w, http.StatusCreated, providerInfo(registered))
}

// handleProviderRoutes routes /api/providers/{id} and /api/providers/{id}/health.
func (g *Gateway) handleProviderRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/providers/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeValidation, "provider id is required")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodDelete:
		g.handleDeregisterProvider(w, r, id)
	case sub == "health" && r.Method == http.MethodPut:
		g.handleUpdateHealth(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleDeregisterProvider handles DELETE /api/providers/{id}.
// Deregistration is idempotent from the catalog's point of view but a
// repeated call reports 404, matching the registry's semantics.
func (g *Gateway) handleDeregisterProvider(w http.ResponseWriter, r *http.Request, id string) {
	if err := g.registry.Deregister(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrProviderNotFound) {
			g.sendJSONError(w, http.StatusNotFound, schema.CodeNotFound, "provider not found")
			return
		}
		g.logger.Error("failed to deregister provider", "error", err, "provider_id", id)
		g.sendJSONError(w, http.StatusInternalServerError, schema.CodeInternal, "internal server error")
		return
	}

	g.metrics.SetRegisteredProviders(g.registry.Len())
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateHealth handles PUT /api/providers/{id}/health.
func (g *Gateway) handleUpdateHealth(w http.ResponseWriter, r *http.Request, id string) {
	var req UpdateHealthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeValidation, "invalid JSON body")
		return
	}

	state, err := registry.ParseHealthState(req.Health)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, schema.CodeValidation, err.Error())
		return
	}

	if err := g.registry.UpdateHealth(r.Context(), id, state); err != nil {
		if errors.Is(err, registry.ErrProviderNotFound) {
			g.sendJSONError(w, http.StatusNotFound, schema.CodeNotFound, "provider not found")
			return
		}
		g.logger.Error("failed to update provider health", "error", err, "provider_id", id)
		g.sendJSONError(w, http.StatusInternalServerError, schema.CodeInternal, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// providerInfo converts a registry provider to its admin API shape.
func providerInfo(p registry.Provider) ProviderInfoResponse {
	return ProviderInfoResponse{
		ID:           p.ID,
		Name:         p.Name,
		Capabilities: p.Capabilities,
		Endpoint:     p.Endpoint,
		Health:       string(p.Health),
		LastSeen:     p.LastSeen.Format(time.RFC3339),
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// writeJSON writes a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response with a stable error code.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, code, message string) {
	g.writeJSON(w, status, schema.ErrorResponse{Code: code, Error: message})
}
