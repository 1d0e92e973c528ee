package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/codecollab/engine/pkg/model"
	"github.com/codecollab/engine/pkg/replica"
	"github.com/codecollab/engine/pkg/store"
)

func (s *Server) user(r *http.Request) (string, error) {
	u := r.Header.Get(UserHeader)
	if u == "" {
		return "", fmt.Errorf("missing %s header: %w", UserHeader, model.ErrBadRequest)
	}
	return u, nil
}

// parseRef resolves the {ref} path variable: all-digit refs address the
// project id, anything else its session id.
func parseRef(raw string) store.ProjectRef {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return store.RefByID(id)
	}
	return store.RefBySessionID(raw)
}

// assertAccess resolves the project and requires the caller to be a
// member. Absent project is NotFound; a non-member caller is
// Unauthorized.
func (s *Server) assertAccess(ctx context.Context, ref store.ProjectRef, user string) (*model.Project, error) {
	p, err := s.store.ProjectWithMember(ctx, ref, user)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	existing, err := s.store.GetProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("project: %w", model.ErrNotFound)
	}
	return nil, fmt.Errorf("%s is not a member of this project: %w", user, model.ErrUnauthorized)
}

// assertOwner additionally requires the caller to be the creator.
func (s *Server) assertOwner(ctx context.Context, ref store.ProjectRef, user string) (*model.Project, error) {
	p, err := s.store.ProjectWithOwner(ctx, ref, user)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	// Resolve why ownership failed: absent project, non-member, or
	// member without ownership.
	if _, err := s.assertAccess(ctx, ref, user); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s does not own this project: %w", user, model.ErrUnauthorized)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case model.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	case model.IsUnauthorized(err):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "UNAUTHORIZED"})
	case model.IsBadRequest(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "BAD_REQUEST"})
	default:
		slog.Error("internal error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode body: %w", model.ErrBadRequest)
	}
	return nil
}

// --- projects ---

type createProjectRequest struct {
	SessionID string   `json:"sessionId"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.SessionID == "" || req.Name == "" {
		s.writeError(w, fmt.Errorf("sessionId and name are required: %w", model.ErrBadRequest))
		return
	}
	p, err := s.store.CreateProject(r.Context(), req.SessionID, req.Name, user, req.Members)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type projectResponse struct {
	*model.Project
	Contributions *model.Contributions `json:"contributions"`
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ref := parseRef(mux.Vars(r)["ref"])
	p, err := s.store.GetProject(r.Context(), ref)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if p == nil {
		// Nullable query result: not-found renders as null, not as a
		// raised error, so callers can show "not found" UI.
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	if _, err := s.assertAccess(r.Context(), store.RefByID(p.ID), user); err != nil {
		s.writeError(w, err)
		return
	}
	contribs, err := s.store.Contributions(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{Project: p, Contributions: contribs})
}

type updateProjectRequest struct {
	Name string `json:"name"`
}

type updatedResponse struct {
	Updated bool `json:"updated"`
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ref := parseRef(mux.Vars(r)["ref"])
	var req updateProjectRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Name == "" {
		s.writeError(w, fmt.Errorf("name is required: %w", model.ErrBadRequest))
		return
	}
	if _, err := s.assertOwner(r.Context(), ref, user); err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := s.store.UpdateProjectName(r.Context(), ref, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updatedResponse{Updated: updated})
}

type memberRequest struct {
	User string `json:"user"`
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ref := parseRef(mux.Vars(r)["ref"])
	var req memberRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.User == "" {
		s.writeError(w, fmt.Errorf("user is required: %w", model.ErrBadRequest))
		return
	}
	if _, err := s.assertOwner(r.Context(), ref, user); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.AddMember(r.Context(), ref, req.User); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updatedResponse{Updated: true})
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	ref := parseRef(vars["ref"])
	if _, err := s.assertOwner(r.Context(), ref, user); err != nil {
		s.writeError(w, err)
		return
	}
	removed, err := s.store.RemoveMember(r.Context(), ref, vars["user"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updatedResponse{Updated: removed})
}

type updateProjectDocRequest struct {
	Delta []byte `json:"delta"`
}

type mergedResponse struct {
	Merged bool `json:"merged"`
}

func (s *Server) updateProjectDoc(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ref := parseRef(mux.Vars(r)["ref"])
	var req updateProjectDocRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.assertAccess(r.Context(), ref, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.MergeDocUpdate(r.Context(), p.ID, req.Delta); err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.DeltasMerged.Inc()
	writeJSON(w, http.StatusOK, mergedResponse{Merged: true})
}

// --- path tree ---

type createDirectoryRequest struct {
	Path string `json:"path"`
}

func (s *Server) getOrCreateDirectory(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ref := parseRef(mux.Vars(r)["ref"])
	var req createDirectoryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.assertAccess(r.Context(), ref, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.store.GetOrCreateDirectory(r.Context(), p.ID, req.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type createFileRequest struct {
	Path           string `json:"path"`
	InitialContent string `json:"initialContent"`
}

func (s *Server) getOrCreateFile(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ref := parseRef(mux.Vars(r)["ref"])
	var req createFileRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.assertAccess(r.Context(), ref, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.store.GetOrCreateFile(r.Context(), p.ID, req.Path, req.InitialContent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ref := parseRef(mux.Vars(r)["ref"])
	p, err := s.assertAccess(r.Context(), ref, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.store.ListEntries(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type renameRequest struct {
	NewName string `json:"newName"`
}

func (s *Server) renameDirectory(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	var req renameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.gateDirectory(r.Context(), id, user); err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.store.RenameDirectory(r.Context(), id, req.NewName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) deleteDirectory(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.gateDirectory(r.Context(), id, user); err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.store.DeleteDirectory(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.store.GetFile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if f == nil {
		// Nullable query result, mirrors getProject.
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	if _, err := s.assertAccess(r.Context(), store.RefByID(f.ProjectID), user); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) renameFile(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	var req renameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.gateFile(r.Context(), id, user); err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.store.RenameFile(r.Context(), id, req.NewName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.gateFile(r.Context(), id, user); err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.store.DeleteFile(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// --- content, versions, revert ---

type updateFileContentRequest struct {
	NewContent   string `json:"newContent"`
	ProjectDelta []byte `json:"projectDelta"`
	Snapshot     []byte `json:"snapshot"`
}

// updateFileContent is the flush entry point: it merges the project
// delta into the accumulated update log, stores the materialized text,
// and appends a version snapshot credited to the caller. Concurrent
// flushes race on the content field (last one wins) but never on the
// version log.
func (s *Server) updateFileContent(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	var req updateFileContentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if f == nil {
		s.writeError(w, fmt.Errorf("file %s: %w", id, model.ErrNotFound))
		return
	}
	if _, err := s.assertAccess(r.Context(), store.RefByID(f.ProjectID), user); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.MergeDocUpdate(r.Context(), f.ProjectID, req.ProjectDelta); err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.DeltasMerged.Inc()
	if _, err := s.store.AppendVersion(r.Context(), id, req.Snapshot, user); err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.VersionsAppended.Inc()
	updated, err := s.store.UpdateFileContent(r.Context(), id, req.NewContent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.gateFile(r.Context(), id, user); err != nil {
		s.writeError(w, err)
		return
	}
	versions, err := s.store.ListVersions(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if versions == nil {
		versions = []*model.Version{}
	}
	writeJSON(w, http.StatusOK, versions)
}

type revertResponse struct {
	Content string `json:"content"`
}

// revertPreview reconstructs the file's text at a prior version without
// mutating anything: the caller feeds the returned content into its
// editor and must explicitly save for it to become durable.
func (s *Server) revertPreview(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	f, err := s.store.GetFile(r.Context(), vars["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if f == nil {
		s.writeError(w, fmt.Errorf("file %s: %w", vars["id"], model.ErrNotFound))
		return
	}
	if _, err := s.assertAccess(r.Context(), store.RefByID(f.ProjectID), user); err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.store.GetVersion(r.Context(), vars["versionId"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if v == nil || v.FileID != f.ID {
		s.writeError(w, fmt.Errorf("version %s: %w", vars["versionId"], model.ErrNotFound))
		return
	}
	content, err := replica.Revert(v, f.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revertResponse{Content: content})
}

// --- websockets ---

func (s *Server) syncProject(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ref := parseRef(mux.Vars(r)["ref"])
	p, err := s.assertAccess(r.Context(), ref, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rm, err := s.hub.Room(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()
	s.metrics.SyncConnections.Inc()
	defer s.metrics.SyncConnections.Dec()
	if err := rm.SyncConn(r.Context(), conn); err != nil {
		slog.Error("failed to sync", "project", p.ID, "err", err)
	}
}

func (s *Server) awarenessProject(w http.ResponseWriter, r *http.Request) {
	user, err := s.user(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ref := parseRef(mux.Vars(r)["ref"])
	p, err := s.assertAccess(r.Context(), ref, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rm, err := s.hub.Room(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	rm.PresenceConn(r.Context(), ulid.Make().String(), conn)
}

// gateDirectory checks that the caller is a member of the project the
// directory belongs to.
func (s *Server) gateDirectory(ctx context.Context, id, user string) error {
	d, err := s.store.GetDirectory(ctx, id)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("directory %s: %w", id, model.ErrNotFound)
	}
	_, err = s.assertAccess(ctx, store.RefByID(d.ProjectID), user)
	return err
}

// gateFile checks that the caller is a member of the project the file
// belongs to.
func (s *Server) gateFile(ctx context.Context, id, user string) error {
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("file %s: %w", id, model.ErrNotFound)
	}
	_, err = s.assertAccess(ctx, store.RefByID(f.ProjectID), user)
	return err
}
