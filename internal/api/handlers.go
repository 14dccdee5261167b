package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Sandiman184/e-raport/internal/audit"
	"github.com/Sandiman184/e-raport/internal/backup"
	"github.com/Sandiman184/e-raport/internal/db"
)

// ActorHeader carries the id of the authenticated user from the web app.
const ActorHeader = "X-Actor-ID"

type createBackupRequest struct {
	Description string `json:"description" validate:"max=100"`
	Year        string `json:"year" validate:"max=20"`
}

type actorRequest struct {
	ActorID *int64 `json:"actor_id" validate:"omitempty,gt=0"`
}

type pruneRequest struct {
	Year    string `json:"year" validate:"max=20"`
	Confirm string `json:"confirm" validate:"max=16,printascii"`
	ActorID *int64 `json:"actor_id" validate:"omitempty,gt=0"`
}

type resetRequest struct {
	Confirm string `json:"confirm" validate:"max=16,printascii"`
	ActorID *int64 `json:"actor_id" validate:"omitempty,gt=0"`
}

type deletedResponse struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// actorFrom prefers an explicit body value over the header. The client IP
// is whatever RealIP resolved.
func actorFrom(r *http.Request, bodyID *int64) (audit.Actor, error) {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	actor := audit.Actor{UserID: bodyID, IPAddress: ip}
	if bodyID == nil {
		if h := strings.TrimSpace(r.Header.Get(ActorHeader)); h != "" {
			id, err := strconv.ParseInt(h, 10, 64)
			if err != nil || id <= 0 {
				return actor, fmt.Errorf("%s must be a positive integer", ActorHeader)
			}
			actor.UserID = &id
		}
	}
	return actor, nil
}

func badRequest(w http.ResponseWriter, err error) {
	respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), "")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := db.Exists(s.mgr.StorePath()); err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"store": "ok"})
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.mgr.ListSnapshots(r.Context())
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snaps)
}

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	var req createBackupRequest
	if err := decodeAndValidate(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	built, err := s.mgr.CreateSnapshot(r.Context(), backup.BuildOptions{
		Description: req.Description,
		Year:        req.Year,
		Trigger:     backup.TriggerManual,
	})
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, built)
}

func (s *Server) downloadBackup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	snap, err := s.mgr.Store().Stat(name)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	f, err := s.mgr.Store().Open(r.Context(), name)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", snap.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(snap.Size, 10))
	if _, err := io.Copy(w, f); err != nil {
		s.log.Warn("snapshot download interrupted", "file", name, "error", err)
	}
}

func (s *Server) deleteBackup(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r, nil)
	if err != nil {
		badRequest(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	ok, err := s.mgr.DeleteSnapshot(r.Context(), name, actor)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("snapshot %s not found", name), "")
		return
	}
	respondJSON(w, http.StatusOK, deletedResponse{Name: name, Deleted: true})
}

func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeAndValidate(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	actor, err := actorFrom(r, req.ActorID)
	if err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.mgr.RestoreSnapshot(r.Context(), chi.URLParam(r, "name"), actor)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// restoreUpload streams the multipart "file" part straight into the
// restorer, which enforces the size limit.
func (s *Server) restoreUpload(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r, nil)
	if err != nil {
		badRequest(w, err)
		return
	}

	// Room for multipart framing on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		badRequest(w, fmt.Errorf("expected multipart/form-data: %w", err))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			badRequest(w, errors.New(`missing "file" part`))
			return
		}
		if err != nil {
			respondAppError(w, r, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		res, err := s.mgr.RestoreUpload(r.Context(), part, part.FileName(), actor)
		part.Close()
		if err != nil {
			respondAppError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
		return
	}
}

func (s *Server) impact(w http.ResponseWriter, r *http.Request) {
	rep, err := s.mgr.Analyze(r.Context(), r.URL.Query().Get("year"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) prune(w http.ResponseWriter, r *http.Request) {
	var req pruneRequest
	if err := decodeAndValidate(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	actor, err := actorFrom(r, req.ActorID)
	if err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.mgr.Prune(r.Context(), req.Year, req.Confirm, actor)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeAndValidate(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	actor, err := actorFrom(r, req.ActorID)
	if err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.mgr.Reset(r.Context(), req.Confirm, actor)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) estimate(w http.ResponseWriter, r *http.Request) {
	est, err := s.mgr.Estimate(r.Context())
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, est)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.mgr.Audit().List(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

type journalStatus struct {
	Path    string `json:"path"`
	Entries int    `json:"entries"`
	Intact  bool   `json:"intact"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) verifyAudit(w http.ResponseWriter, r *http.Request) {
	j := s.mgr.Audit().Journal()
	if j == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no audit journal configured", "")
		return
	}
	n, err := j.Verify()
	st := journalStatus{Path: j.Path(), Entries: n, Intact: err == nil}
	if err != nil {
		st.Error = err.Error()
	}
	respondJSON(w, http.StatusOK, st)
}
