// Package web serves the uploader to a browser: a page with the file input,
// the upload button, the status line and the audio player, kept current over
// a websocket.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/book-expert/image-audio/internal/media"
	"github.com/book-expert/image-audio/internal/workflow"
	"github.com/book-expert/logger"
	"github.com/gorilla/websocket"
)

//go:embed static/*
var staticFS embed.FS

// Routes.
const (
	routeIndex  = "/"
	routeHealth = "/healthz"
	routeState  = "/api/state"
	routeSelect = "/api/select"
	routeUpload = "/api/upload"
	routeWS     = "/ws"
)

const (
	formFieldFile     = "file"
	maxUploadBytes    = 32 << 20
	writeWait         = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	contentTypeJSON   = "application/json"
)

// Server is the browser front end of one Component.
type Server struct {
	component *workflow.Component
	log       *logger.Logger
	upgrader  websocket.Upgrader
	mux       *http.ServeMux
}

// NewServer registers the routes for component.
func NewServer(component *workflow.Component, log *logger.Logger) *Server {
	server := &Server{
		component: component,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}

	server.routes()

	return server
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		s.log.Info("Web front end listening on http://%s", addr)
		errChan <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("web server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down web server: %w", err)
	}

	return nil
}

func (s *Server) routes() {
	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		s.log.Error("Embedded page unavailable: %v", err)
		static = staticFS
	}

	s.mux.Handle(routeIndex, http.FileServer(http.FS(static)))
	s.mux.HandleFunc(routeHealth, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.HandleFunc(routeState, s.handleState)
	s.mux.HandleFunc(routeSelect, s.handleSelect)
	s.mux.HandleFunc(routeUpload, s.handleUpload)
	s.mux.HandleFunc(routeWS, s.handleWS)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	s.writeView(w, http.StatusOK)
}

// handleSelect takes the multipart "file" field as the new selection. A form
// without it clears the selection, like a cancelled file dialog.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, err := readFormFile(r)
	if err != nil {
		s.log.Warn("Rejected file selection: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	s.component.Select(file)
	s.writeView(w, http.StatusOK)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	// The attempt outlives this request; selecting a new file cancels it.
	_, err := s.component.Start(context.Background())

	switch {
	case errors.Is(err, workflow.ErrNoFile):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, workflow.ErrAttemptInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		s.writeView(w, http.StatusAccepted)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed: %v", err)

		return
	}
	defer conn.Close()

	updates := make(chan workflow.View, 1)
	unsubscribe := s.component.Subscribe(func(view workflow.View) {
		offerLatest(updates, view)
	})
	defer unsubscribe()

	closed := make(chan struct{})

	go func() {
		defer close(closed)

		for {
			_, _, readErr := conn.ReadMessage()
			if readErr != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case view := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			writeErr := conn.WriteJSON(view)
			if writeErr != nil {
				s.log.Warn("Websocket write failed: %v", writeErr)

				return
			}
		}
	}
}

func (s *Server) writeView(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(s.component.View())
	if err != nil {
		s.log.Warn("Failed to write view: %v", err)
	}
}

func readFormFile(r *http.Request) (*media.File, error) {
	err := r.ParseMultipartForm(maxUploadBytes)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("invalid form: %w", err)
	}

	if errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}

	part, header, err := r.FormFile(formFieldFile)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("invalid file field: %w", err)
	}
	defer part.Close()

	data, err := io.ReadAll(part)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}

	return media.FromBytes(header.Filename, data), nil
}

// offerLatest keeps only the newest view in a one-slot channel.
func offerLatest(updates chan workflow.View, view workflow.View) {
	select {
	case updates <- view:
		return
	default:
	}

	select {
	case <-updates:
	default:
	}

	select {
	case updates <- view:
	default:
	}
}
