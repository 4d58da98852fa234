// Package api exposes the relay core's stream registry, query, and stats
// operations over HTTP, using an http.ServeMux + CORS/logging middleware +
// graceful-shutdown shape.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fluxmedia/flux-relay/pkg/ferrors"
	"github.com/fluxmedia/flux-relay/pkg/mediatypes"
	"github.com/fluxmedia/flux-relay/pkg/mqtt"
	"github.com/fluxmedia/flux-relay/pkg/relay"
)

// Server is the external HTTP control plane in front of a relay.Core.
type Server struct {
	core       *relay.Core
	mqttBroker *mqtt.Broker // optional, for /metrics
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates an API server fronting core. mqttBroker may be nil if
// the deployment doesn't run the MQTT broker.
func NewServer(core *relay.Core, mqttBroker *mqtt.Broker, logger *slog.Logger) *Server {
	return &Server{core: core, mqttBroker: mqttBroker, logger: logger.With("component", "api_server")}
}

// Start binds addr and serves until Stop is called; it returns once the
// listener is bound so callers can start dependent components immediately.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/streams", s.handleStreams)
	mux.HandleFunc("/api/streams/", s.handleStream)
	mux.HandleFunc("/metrics", s.handleMetrics)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withCORS(s.withLogging(mux)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "address", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop closes the HTTP server immediately, dropping active connections.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping HTTP API server")
	return s.httpServer.Close()
}

// handleStreams handles GET /api/streams (list_streams) and POST
// /api/streams (register_stream).
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ids := s.core.ListStreams()
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = id.String()
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req struct {
			StreamID   string `json:"stream_id"`
			IngressURL string `json:"ingress_url"`
			Protocol   string `json:"protocol"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		id, err := mediatypes.ParseStreamId(req.StreamID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.core.RegisterStream(id, req.IngressURL, req.Protocol); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStream routes /api/streams/{stream_id}/{operation}, covering
// snapshot, query_segments, get_segment_bytes, and stats.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/streams/")
	if path == "" {
		http.Error(w, "missing stream id", http.StatusBadRequest)
		return
	}

	// StreamId itself is "protocol/path" and path may contain further
	// slashes, so the trailing operation segment is peeled off the back
	// of the URL rather than split from the front.
	idStr, op := path, ""
	for _, suffix := range []string{"/snapshot", "/stats", "/segments"} {
		if rest, ok := strings.CutSuffix(path, suffix); ok {
			idStr, op = rest, strings.TrimPrefix(suffix, "/")
			break
		}
	}
	var segmentSeq string
	if op == "" {
		if rest, seq, ok := cutLastSegment(path, "segments"); ok {
			idStr, op, segmentSeq = rest, "segment_bytes", seq
		}
	}

	id, err := mediatypes.ParseStreamId(idStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch op {
	case "":
		if r.Method == http.MethodDelete {
			if err := s.core.UnregisterStream(id); err != nil {
				s.writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	case "snapshot":
		s.handleSnapshot(w, id)
	case "segments":
		s.handleQuerySegments(w, r, id)
	case "stats":
		s.handleStats(w, id)
	case "segment_bytes":
		s.handleGetSegmentBytes(w, id, segmentSeq)
	default:
		http.NotFound(w, r)
	}
}

// cutLastSegment splits path at its final "/<marker>/<value>"
// component, returning the prefix before marker and the trailing value.
func cutLastSegment(path, marker string) (prefix, value string, ok bool) {
	idx := strings.LastIndex(path, "/"+marker+"/")
	if idx < 0 {
		return "", "", false
	}
	return path[:idx], path[idx+len(marker)+2:], true
}

func (s *Server) handleSnapshot(w http.ResponseWriter, id mediatypes.StreamId) {
	bytes, err := s.core.Snapshot(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(bytes)
}

func (s *Server) handleQuerySegments(w http.ResponseWriter, r *http.Request, id mediatypes.StreamId) {
	start, err := parseUnixQueryParam(r, "start")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseUnixQueryParam(r, "end")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	metas, err := s.core.QuerySegments(id, start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleGetSegmentBytes(w http.ResponseWriter, id mediatypes.StreamId, seqStr string) {
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid sequence", http.StatusBadRequest)
		return
	}
	bytes, err := s.core.GetSegmentBytes(id, seq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(bytes)
}

func (s *Server) handleStats(w http.ResponseWriter, id mediatypes.StreamId) {
	stats, err := s.core.Stats(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleMetrics serves the MQTT broker's Prometheus text-exposition
// snapshot, when one is configured.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.mqttBroker == nil {
		http.Error(w, "metrics not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(s.mqttBroker.MetricsSnapshot()))
}

// writeError maps the core error taxonomy to the four HTTP
// statuses it surfaces externally.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch ferrors.KindOf(err) {
	case ferrors.KindNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case ferrors.KindPermissionDenied:
		http.Error(w, err.Error(), http.StatusForbidden)
	case ferrors.KindBackpressureDrop:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("internal API error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseUnixQueryParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, errors.New("api: missing " + name + " query parameter")
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, errors.New("api: invalid " + name + " query parameter")
	}
	return time.Unix(sec, 0).UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// withCORS adds permissive CORS headers for browser-based viewer clients.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging logs each request's method, path, status, and duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
