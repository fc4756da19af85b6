package engine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	yaml "gopkg.in/yaml.v2"

	"github.com/zachfi/minicast/modules/encoder"
	"github.com/zachfi/minicast/pkg/shoutcast"
)

const (
	eventInterval  = time.Second
	maxConfigBytes = 64 * 1024
)

// Status is a snapshot of the engine for the admin API.
type Status struct {
	State       string `json:"state"`
	Encoder     string `json:"encoder"`
	Connections int    `json:"connections"`
	Title       string `json:"title"`
	Address     string `json:"address"`
	StreamBytes uint64 `json:"stream_bytes"`
	Bitrate     int    `json:"bitrate"`
	ChannelMode string `json:"channel_mode"`
	StreamName  string `json:"stream_name"`
}

// Status returns the current state of the engine.
func (e *Engine) Status() Status {
	cfg := e.Config()

	phase := encoder.PhaseIdle
	e.mu.RLock()
	if e.pipeline != nil {
		phase = e.pipeline.Phase()
	}
	e.mu.RUnlock()

	return Status{
		State:       e.State().String(),
		Encoder:     phase.String(),
		Connections: e.Connections(),
		Title:       e.Title(),
		Address:     e.Addr(),
		StreamBytes: e.buffer.Load().Written(),
		Bitrate:     cfg.Encoder.Bitrate,
		ChannelMode: string(cfg.Encoder.ChannelMode),
		StreamName:  cfg.Network.StreamName,
	}
}

// RegisterRoutes mounts the admin API on r.
func (e *Engine) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", e.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/title", e.handleTitle).Methods(http.MethodPost, http.MethodPut)
	api.HandleFunc("/config", e.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", e.handlePutConfig).Methods(http.MethodPut)
	api.HandleFunc("/events", e.handleEvents).Methods(http.MethodGet)
}

func (e *Engine) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, e.Status())
}

func (e *Engine) handleTitle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, shoutcast.MaxMetadataSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := e.UpdateTitle(strings.TrimSpace(string(body))); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, e.Status())
}

func (e *Engine) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	out, err := yaml.Marshal(e.Config())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(out)
}

// handlePutConfig accepts a full or partial engine configuration as yaml or
// json. Omitted fields keep their current values.
func (e *Engine) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg := e.Config()
	if err := yaml.UnmarshalStrict(body, &cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := e.SetConfig(r.Context(), cfg); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidConfig) {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}

	writeJSON(w, http.StatusOK, e.Status())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents pushes the status to a websocket client every eventInterval.
func (e *Engine) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Reads only serve to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventInterval)
	defer ticker.Stop()

	for {
		data, err := json.Marshal(e.Status())
		if err != nil {
			e.logger.Error("failed to marshal status", "err", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
