// Package server wires HTTP handlers into a gorilla/mux router for the
// docsync relay.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures the router: the websocket endpoint, the document
// creation endpoint, health and test pages, and, when cfg.StaticDir is set,
// the front-end bundle with a fallback to its index.html.
func SetupRoutes(hub *Hub) *mux.Router {
	policy := newOriginPolicy(hub.cfg.AllowedOrigins, hub.log)

	r := mux.NewRouter()
	r.HandleFunc("/ws", WebSocketHandler(hub, policy))
	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/test", TestPageHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(policy.corsMiddleware)
	api.HandleFunc("/create-document", CreateDocumentHandler(hub)).
		Methods(http.MethodGet, http.MethodPost, http.MethodOptions)

	if dir := hub.cfg.StaticDir; dir != "" {
		r.PathPrefix("/").Handler(spaHandler{dir: dir, index: "index.html", log: hub.log})
	} else {
		r.HandleFunc("/", HealthHandler)
	}
	return r
}
