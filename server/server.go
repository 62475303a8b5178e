/*
Package server is the HTTP collaborator of the forager. It serves:

	GET  /      a hello page
	GET  /api   a plain acknowledgement
	POST /api   append-only persistence of {workerId, content} records as JSONL
	GET  /live  an svg page of a running simulation, if one is attached
	GET  /ws    the websocket pushing element updates to /live

The persistence endpoint writes json(content) plus a newline to
<dataDir>/<workerId>.jsonl and answers {message, request_data, data_saved}. Bodies
without both keys are echoed back unsaved.
*/
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"forager/server/fastview"

	"github.com/gorilla/mux"
)

const (
	// Bodies larger than this are rejected.
	maxBodyBytes = 1 << 20
	// Time allowed for in-flight requests once the server is asked to stop.
	shutdownGrace = 5 * time.Second
)

type Config struct {
	Addr    string
	DataDir string
	Rates   fastview.Rates
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	store  *jsonlStore
	live   *LiveView
	router *mux.Router
}

// NewServer creates the data folder and routes. live may be nil, in which case
// /live and /ws answer 404.
func NewServer(cfg Config, live *LiveView, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Rates == (fastview.Rates{}) {
		cfg.Rates = fastview.DefaultRates
	}
	store, err := newJSONLStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	server := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		live:   live,
		router: mux.NewRouter(),
	}
	server.routes()
	return server, nil
}

func (server *Server) routes() {
	r := server.router
	r.HandleFunc("/", server.serveHello).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api", server.serveAPIGet).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api", server.serveAPIPost).Methods(http.MethodPost)
	r.HandleFunc("/live", server.serveLive).Methods(http.MethodGet)
	r.HandleFunc("/ws", server.serveWebsocket).Methods(http.MethodGet)
	r.Use(mux.CORSMethodMiddleware(r), cors)
}

// cors allows any origin, the way the browser experiment client expects, and
// answers preflight requests.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (server *Server) Handler() http.Handler {
	return server.router
}

// Serve listens until ctx ends, then shuts down gracefully.
func (server *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              server.cfg.Addr,
		Handler:           server.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	server.logger.Info("listening", "addr", server.cfg.Addr, "data_dir", server.cfg.DataDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (server *Server) serveHello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, "<p>Hello, World!</p>")
}

func (server *Server) serveAPIGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, "I received a GET request!")
}

type apiResponse struct {
	Message     string          `json:"message"`
	RequestData json.RawMessage `json:"request_data"`
	DataSaved   json.RawMessage `json:"data_saved,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

func (server *Server) serveAPIPost(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		server.writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Error: err.Error()})
		return
	}
	var body any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err = dec.Decode(&body); err != nil {
		server.writeJSON(w, http.StatusBadRequest, apiError{Error: fmt.Sprintf("invalid json: %v", err)})
		return
	}

	response := apiResponse{
		Message:     "I received a POST request!",
		RequestData: json.RawMessage(raw),
	}
	if err = apiSchema.Validate(body); err != nil {
		server.logger.Debug("not saving request", "err", fmt.Errorf("%w: %v", ErrMissingKeys, err))
		server.writeJSON(w, http.StatusOK, response)
		return
	}

	// The schema guarantees an object with a string workerId.
	var fields map[string]json.RawMessage
	var workerID string
	var content bytes.Buffer
	if err = errors.Join(
		json.Unmarshal(raw, &fields),
		json.Unmarshal(fields["workerId"], &workerID),
		json.Compact(&content, fields["content"]),
	); err != nil {
		server.writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	path, err := server.store.Append(workerID, content.Bytes())
	switch {
	case errors.Is(err, ErrInvalidWorkerID):
		server.writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	case err != nil:
		server.logger.Error("saving request failed", "worker_id", workerID, "err", err)
		server.writeJSON(w, http.StatusInternalServerError, apiError{Error: "failed to save data"})
		return
	}

	response.Message = "Data saved to file at " + path
	response.DataSaved = content.Bytes()
	server.writeJSON(w, http.StatusOK, response)
}

func (server *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		server.logger.Error("writing response failed", "err", err)
	}
}

func (server *Server) serveLive(w http.ResponseWriter, r *http.Request) {
	if server.live == nil {
		http.Error(w, "no simulation attached", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := server.live.Render(w); err != nil {
		server.logger.Error("rendering live view failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// serveWebsocket publishes the live view's updates to the client until it leaves.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	if server.live == nil {
		http.Error(w, "no simulation attached", http.StatusNotFound)
		return
	}
	cli, err := fastview.NewClient(server.live.Updates(), w, r, server.cfg.Rates)
	if err != nil {
		server.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	if err = cli.Sync(); err != nil {
		server.logger.Info("websocket closed", "reason", err)
		return
	}
	server.logger.Debug("websocket closed")
}
