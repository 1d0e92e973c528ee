// Package api exposes the engine's external operations over HTTP: the
// path tree, file updates and versions, project metadata, and the two
// websocket channels (document sync and awareness). Authentication is
// out of scope; the caller identity arrives externally asserted in a
// header, and this layer only enforces project membership and
// ownership.
package api

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/codecollab/engine/pkg/room"
	"github.com/codecollab/engine/pkg/store"
)

// UserHeader carries the externally-asserted caller identity. Requests
// without it are rejected before any lookup.
const UserHeader = "X-Collab-User"

type Server struct {
	store    *store.Store
	hub      *room.Hub
	metrics  *Metrics
	upgrader websocket.Upgrader
	router   *mux.Router
}

func NewServer(st *store.Store, hub *room.Hub, metrics *Metrics) *Server {
	s := &Server{
		store:   st,
		hub:     hub,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := mux.NewRouter()
	r.Use(s.logAndCount)

	r.Methods(http.MethodPost).Path("/projects").HandlerFunc(s.createProject)
	r.Methods(http.MethodGet).Path("/projects/{ref}").HandlerFunc(s.getProject)
	r.Methods(http.MethodPatch).Path("/projects/{ref}").HandlerFunc(s.updateProject)
	r.Methods(http.MethodPost).Path("/projects/{ref}/members").HandlerFunc(s.addMember)
	r.Methods(http.MethodDelete).Path("/projects/{ref}/members/{user}").HandlerFunc(s.removeMember)
	r.Methods(http.MethodPost).Path("/projects/{ref}/doc").HandlerFunc(s.updateProjectDoc)

	r.Methods(http.MethodPost).Path("/projects/{ref}/directories").HandlerFunc(s.getOrCreateDirectory)
	r.Methods(http.MethodPost).Path("/projects/{ref}/files").HandlerFunc(s.getOrCreateFile)
	r.Methods(http.MethodGet).Path("/projects/{ref}/entries").HandlerFunc(s.listEntries)

	r.Methods(http.MethodPatch).Path("/directories/{id}").HandlerFunc(s.renameDirectory)
	r.Methods(http.MethodDelete).Path("/directories/{id}").HandlerFunc(s.deleteDirectory)

	r.Methods(http.MethodGet).Path("/files/{id}").HandlerFunc(s.getFile)
	r.Methods(http.MethodPatch).Path("/files/{id}").HandlerFunc(s.renameFile)
	r.Methods(http.MethodDelete).Path("/files/{id}").HandlerFunc(s.deleteFile)
	r.Methods(http.MethodPost).Path("/files/{id}/content").HandlerFunc(s.updateFileContent)
	r.Methods(http.MethodGet).Path("/files/{id}/versions").HandlerFunc(s.listVersions)
	r.Methods(http.MethodGet).Path("/files/{id}/versions/{versionId}/text").HandlerFunc(s.revertPreview)

	r.Methods(http.MethodGet).Path("/projects/{ref}/sync").HandlerFunc(s.syncProject)
	r.Methods(http.MethodGet).Path("/projects/{ref}/awareness").HandlerFunc(s.awarenessProject)

	r.Methods(http.MethodGet).Path("/metrics").Handler(metrics.Handler())
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logAndCount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.metrics.RequestsTotal.WithLabelValues(r.Method, statusLabel(m.Code)).Inc()
		slog.Info("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
