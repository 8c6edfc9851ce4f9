// Package server is the HTTP surface around one node: the websocket
// endpoint, a health check, and the static UI files.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"collabboard/internal/node"
)

func New(n *node.Node, staticDir string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		node.ServeWS(n, w, req)
	})
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	return r
}
