// Package server exposes HTTP handlers, including WebSocket upgrades, document
// creation, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades the request and hands the connection to the hub.
func WebSocketHandler(hub *Hub, policy *originPolicy) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)
		if err := hub.Register(client); err != nil {
			hub.log.Warn("rejecting connection", "addr", r.RemoteAddr, "error", err)
			_ = conn.Close()
		}
	}
}

// CreateDocumentHandler creates a document with default state and responds
// with its identifier.
func CreateDocumentHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := hub.CreateDocument(r.Context())
		if err != nil {
			hub.log.Error("creating document", "error", err)
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(CreateDocumentResponse{DocumentID: id}); err != nil {
			hub.log.Warn("writing create-document response", "error", err)
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "docsync server is running!")
}

// spaHandler serves files from dir and falls back to index.html for any path
// that does not name a file, so client-side routes like /document/{id} load
// the application shell.
type spaHandler struct {
	dir   string
	index string
	log   *slog.Logger
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(h.dir, filepath.Clean("/"+r.URL.Path))

	fi, err := os.Stat(path)
	switch {
	case os.IsNotExist(err) || (err == nil && fi.IsDir()):
		http.ServeFile(w, r, filepath.Join(h.dir, h.index))
		return
	case err != nil:
		h.log.Error("serving static file", "path", path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.FileServer(http.Dir(h.dir)).ServeHTTP(w, r)
}
