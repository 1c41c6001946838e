// Package handlers exposes the bridge control surface over HTTP. Responses
// are JSON; account numbers arrive raw and are normalized downstream.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/util"

	"github.com/antinvestor/service-wabridge/apps/bridge/service"
	"github.com/antinvestor/service-wabridge/apps/bridge/service/business"
)

type BridgeHandler struct {
	lifecycle    business.LifecycleManager
	orchestrator business.Orchestrator
	settings     business.SettingsBusiness
	registry     *business.Registry
}

// NewBridgeHandler wires the control surface against the business layer.
func NewBridgeHandler(
	lifecycle business.LifecycleManager,
	orchestrator business.Orchestrator,
	settings business.SettingsBusiness,
	registry *business.Registry,
) *BridgeHandler {
	return &BridgeHandler{
		lifecycle:    lifecycle,
		orchestrator: orchestrator,
		settings:     settings,
		registry:     registry,
	}
}

// SetupRouter registers every control endpoint on a mux.
func (h *BridgeHandler) SetupRouter(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Connect)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("GET /active", h.Active)
	mux.HandleFunc("GET /config/{number}", h.GetConfig)
	mux.HandleFunc("POST /config/{number}", h.UpdateConfig)
	mux.HandleFunc("POST /connect-all", h.ConnectAll)
	mux.HandleFunc("POST /reconnect", h.Reconnect)
	mux.HandleFunc("DELETE /session/{number}", h.Terminate)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidAccountID):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrPairingFailed):
		status = http.StatusBadGateway
	case errors.Is(err, service.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		util.Log(r.Context()).WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Connect handles GET /?number=<raw>: open a session for one account and
// return the pairing code when one was issued.
func (h *BridgeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	if number == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "number query parameter is required"})
		return
	}

	result, err := h.lifecycle.Connect(r.Context(), number)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Ping handles GET /ping.
func (h *BridgeHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
}

// Active handles GET /active: the currently registered account ids.
func (h *BridgeHandler) Active(w http.ResponseWriter, _ *http.Request) {
	ids := h.registry.AccountIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   h.registry.Size(),
		"numbers": ids,
	})
}

// GetConfig handles GET /config/{number}: defaults overlaid with the
// account's stored overrides.
func (h *BridgeHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	opts, err := h.settings.Get(r.Context(), r.PathValue("number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// UpdateConfig handles POST /config/{number} with a partial JSON object.
func (h *BridgeHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var partial data.JSONMap
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body must be a JSON object"})
		return
	}

	if err := h.settings.Update(r.Context(), r.PathValue("number"), partial); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type connectAllRequest struct {
	Numbers []string `json:"numbers"`
}

// ConnectAll handles POST /connect-all: bulk connect with per-account
// outcomes in input order. The body is optional; without numbers the tracked
// account list drives the run.
func (h *BridgeHandler) ConnectAll(w http.ResponseWriter, r *http.Request) {
	var req connectAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body must be a JSON object"})
		return
	}

	if len(req.Numbers) == 0 {
		results, err := h.orchestrator.RecoverTracked(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if results == nil {
			results = []business.Outcome{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	results := h.orchestrator.ConnectAll(r.Context(), req.Numbers)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Reconnect handles POST /reconnect: reopen every account with a stored
// session.
func (h *BridgeHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	results, err := h.orchestrator.ReconnectFromStore(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []business.Outcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Terminate handles DELETE /session/{number}: full logout and purge.
func (h *BridgeHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Terminate(r.Context(), r.PathValue("number")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}
