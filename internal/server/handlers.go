package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/policy"
)

// processRequest is the body of POST /v1/process.
type processRequest struct {
	Text string `json:"text"`
}

// processResponse is the reply: the fully sanitized text.
type processResponse struct {
	Output       string  `json:"output"`
	Cached       bool    `json:"cached,omitempty"`
	ProcessingMS float64 `json:"processing_ms"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	active := s.store.ActivePolicy()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":             "safelayer",
		"version":          "0.1.0",
		"active_policy":    active.Name,
		"policy_version":   active.Version,
		"guards":           len(s.currentManager().Guards()),
		"uptime":           time.Since(s.startTime).String(),
		"total_requests":   atomic.LoadInt64(&s.totalRequests),
		"total_detections": atomic.LoadInt64(&s.totalDetections),
	})
}

// handleProcess sanitizes the posted text through the active pipeline.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	atomic.AddInt64(&s.totalRequests, 1)

	active := s.store.ActivePolicy()

	var cacheKey string
	if s.cache != nil {
		cacheKey = s.cache.Key(active.Name, active.Version, req.Text)
		if output, hit, err := s.cache.Get(r.Context(), cacheKey); err != nil {
			log.Warn("Result cache lookup failed", zap.Error(err))
		} else if hit {
			writeJSON(w, http.StatusOK, processResponse{Output: output, Cached: true})
			return
		}
	}

	start := time.Now()
	output, err := s.currentManager().Run(r.Context(), req.Text)
	if err != nil {
		log.Error("Pipeline run failed", zap.Error(err))
		http.Error(w, "sanitization failed", http.StatusInternalServerError)
		return
	}
	duration := time.Since(start)

	if s.cache != nil {
		if err := s.cache.Set(r.Context(), cacheKey, output); err != nil {
			log.Warn("Result cache store failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, processResponse{
		Output:       output,
		ProcessingMS: float64(duration.Nanoseconds()) / 1e6,
	})
}

// handleListPolicies returns the loaded policy names and the active one.
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": s.store.List(),
		"active":   s.store.ActivePolicy().Name,
	})
}

// handleActivePolicy returns a summary of the active policy.
func (s *Server) handleActivePolicy(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.Summary(s.store.ActivePolicy().Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleSetActivePolicy activates an already-loaded policy and rebuilds the
// pipeline under it.
func (s *Server) handleSetActivePolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := s.store.SetActive(req.Name); err != nil {
		if errors.Is(err, policy.ErrPolicyNotLoaded) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.rebuildManager(); err != nil {
		s.logger.Error("Failed to rebuild pipeline", zap.Error(err))
		http.Error(w, "failed to rebuild pipeline", http.StatusInternalServerError)
		return
	}

	summary, err := s.store.Summary(req.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

var sanitizeUpgrader = gws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleSanitizeWS streams text in and masked text out over a WebSocket.
// Frames may be raw text or {"text": ...} JSON.
func (s *Server) handleSanitizeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := sanitizeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade sanitize WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.config.WebSocket.MaxMessageSize)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure) {
				s.logger.Error("Sanitize WebSocket error", zap.Error(err))
			}
			return
		}

		text := string(raw)
		var req processRequest
		if err := json.Unmarshal(raw, &req); err == nil && req.Text != "" {
			text = req.Text
		}

		atomic.AddInt64(&s.totalRequests, 1)

		output, err := s.currentManager().Run(r.Context(), text)
		if err != nil {
			s.logger.Error("Pipeline run failed", zap.Error(err))
			conn.WriteJSON(map[string]string{"error": "sanitization failed"})
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(s.config.WebSocket.WriteTimeout))
		if err := conn.WriteJSON(map[string]string{"output": output}); err != nil {
			return
		}
	}
}

// writeJSON serializes v with the proper content type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
