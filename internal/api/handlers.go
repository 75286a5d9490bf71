package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/lore/internal/extension"
	"github.com/mattjoyce/lore/internal/sandbox"
)

const maxCallBody = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		ExtensionsLoaded: len(s.registry.All()),
	}
	for _, st := range s.tools.Status() {
		if st.Live {
			resp.WorkersLive++
		}
		if st.Unavailable != "" {
			resp.Unavailable++
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListExtensions handles GET /extensions.
func (s *Server) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]sandbox.WorkerStatus)
	for _, st := range s.tools.Status() {
		status[st.ModulePath] = st
	}

	installed := s.registry.All()
	out := make([]ExtensionResponse, 0, len(installed))
	for _, ext := range installed {
		st := status[ext.Route.ModulePath]
		out = append(out, ExtensionResponse{
			Name:        ext.Name,
			Package:     ext.Package,
			Version:     ext.Version,
			Description: ext.Description,
			Module:      ext.Route.ModulePath,
			Permissions: ext.Route.Permissions,
			WorkerLive:  st.Live,
			Unavailable: st.Unavailable,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleListCalls handles GET /calls?limit=N.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "call journal is disabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	calls, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read call journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read call journal")
		return
	}
	respondJSON(w, http.StatusOK, CallsResponse{Calls: calls})
}

// handleCallTool handles POST /extensions/{extension}/tools/{tool}.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "extension")
	tool := chi.URLParam(r, "tool")

	ext, ok := s.registry.Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "extension not found: "+name)
		return
	}

	var req CallRequest
	body := http.MaxBytesReader(w, r.Body, maxCallBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	tc := extension.ToolContext{
		Mode:    s.config.Mode,
		DataDir: s.config.DataDir,
		DBPath:  s.config.DBPath,
		Logger:  s.logger.With("extension", name, "request_id", middleware.GetReqID(r.Context())),
	}
	result, err := s.tools.CallTool(r.Context(), ext.Route, tool, req.Args, tc)
	if err != nil {
		s.writeCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CallResponse{Extension: name, Tool: tool, Result: result})
}

func (s *Server) writeCallError(w http.ResponseWriter, err error) {
	var ce *sandbox.CallError
	if !errors.As(err, &ce) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		s.logger.Error("tool call failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, statusForKind(ce.Kind), ErrorResponse{Error: ce.Error(), Kind: ce.Kind.String()})
}

func statusForKind(k sandbox.Kind) int {
	switch k {
	case sandbox.KindToolNotFound:
		return http.StatusNotFound
	case sandbox.KindUnavailable:
		return http.StatusServiceUnavailable
	case sandbox.KindTimeout:
		return http.StatusGatewayTimeout
	case sandbox.KindHandler:
		return http.StatusUnprocessableEntity
	case sandbox.KindWorkerError, sandbox.KindWorkerExited, sandbox.KindSpawn, sandbox.KindDisposed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.registry.All()))
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
