// Package api serves the measurement store over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chaz8081/miscale-bridge/internal/ble/protocol"
	"github.com/chaz8081/miscale-bridge/internal/store"
)

// RequestIDHeader is logged with every request when present.
const RequestIDHeader = "X-Request-Id"

// Store is the part of *store.Store the handlers use.
type Store interface {
	Append(m protocol.Measurement) (store.Record, error)
	Latest() (store.Record, bool)
	All() []store.Record
}

// Server exposes the store's endpoints under a path prefix.
type Server struct {
	store  Store
	prefix string
	now    func() time.Time
}

// NewServer creates a Server. prefix is normalized to "" or "/name".
func NewServer(s Store, prefix string) *Server {
	prefix = strings.TrimRight(prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return &Server{store: s, prefix: prefix, now: time.Now}
}

// Handler returns the routed handler wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.prefix+"/health", s.handleHealth)
	mux.HandleFunc("GET "+s.prefix+"/measurement/latest", s.handleLatest)
	mux.HandleFunc("GET "+s.prefix+"/measurements", s.handleAll)
	mux.HandleFunc("POST "+s.prefix+"/measurement", s.handleCreate)
	return logRequests(cors(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	rec, ok := s.store.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.All())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	m, err := parseMeasurement(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	rec, err := s.store.Append(m)
	if err != nil {
		slog.Error("[API] append failed", "error", err, "request_id", r.Header.Get(RequestIDHeader))
		writeError(w, http.StatusInternalServerError, fmt.Errorf("storing measurement failed"))
		return
	}
	slog.Info("[API] measurement stored",
		"weight", rec.Weight, "impedance", rec.Impedance, "request_id", r.Header.Get(RequestIDHeader))
	writeJSON(w, http.StatusOK, rec)
}

// parseMeasurement reads weight, impedance and height from the query string,
// or from a JSON body when the query carries none of them.
func parseMeasurement(r *http.Request) (protocol.Measurement, error) {
	q := r.URL.Query()
	if q.Has("weight") || q.Has("impedance") || q.Has("height") {
		return measurementFromQuery(q.Get("weight"), q.Get("impedance"), q.Get("height"))
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			return protocol.Measurement{}, fmt.Errorf("unsupported content type %q", ct)
		}
	}

	var body struct {
		Weight    *float64 `json:"weight"`
		Impedance *int     `json:"impedance"`
		Height    *float64 `json:"height"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		return protocol.Measurement{}, fmt.Errorf("invalid body: %w", err)
	}
	if body.Weight == nil || body.Impedance == nil || body.Height == nil {
		return protocol.Measurement{}, fmt.Errorf("weight, impedance and height are required")
	}
	return protocol.Measurement{Weight: *body.Weight, Impedance: *body.Impedance, Height: *body.Height}, nil
}

func measurementFromQuery(weight, impedance, height string) (protocol.Measurement, error) {
	var m protocol.Measurement
	var err error
	if m.Weight, err = strconv.ParseFloat(weight, 64); err != nil {
		return m, fmt.Errorf("weight: %w", err)
	}
	if m.Impedance, err = strconv.Atoi(impedance); err != nil {
		return m, fmt.Errorf("impedance: %w", err)
	}
	if m.Height, err = strconv.ParseFloat(height, 64); err != nil {
		return m, fmt.Errorf("height: %w", err)
	}
	return m, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[API] writing response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}
