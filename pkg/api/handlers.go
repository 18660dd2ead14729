package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hutchlabs/hutch/pkg/errdefs"
	"github.com/hutchlabs/hutch/pkg/orchestrator"
	"github.com/hutchlabs/hutch/pkg/types"
)

// maxBodyBytes bounds control request bodies
const maxBodyBytes = 8 << 20

type createRequest struct {
	types.WorkloadSpec
	Variables map[string]string `json:"variables,omitempty"`
}

type response struct {
	Message     string `json:"message"`
	VolumeID    string `json:"volumeId,omitempty"`
	ContainerID string `json:"containerId,omitempty"`
	State       string `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Failure bodies carry the cause under "message", the same key success
// bodies use.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, response{Message: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errdefs.Config("failed to decode request body: %v", err)
	}
	return nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.orch.Create(r.Context(), &req.WorkloadSpec, req.Variables); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	// Provisioning continues in the background; the caller polls /state.
	writeJSON(w, http.StatusAccepted, response{
		Message:  "installation started",
		VolumeID: req.ID,
		State:    string(types.StateInstalling),
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: "workload removed", VolumeID: id})
}

func (s *Server) handleRedeploy(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ID = r.PathValue("id")

	containerID, err := s.orch.Redeploy(r.Context(), &req.WorkloadSpec, req.Variables)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, response{
		Message:     "workload redeployed",
		VolumeID:    req.ID,
		ContainerID: containerID,
	})
}

func (s *Server) handleReinstall(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ID = r.PathValue("id")

	containerID, err := s.orch.Reinstall(r.Context(), &req.WorkloadSpec)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, response{
		Message:     "workload reinstalled",
		VolumeID:    req.ID,
		ContainerID: containerID,
	})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.EditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := r.PathValue("id")
	containerID, err := s.orch.Edit(r.Context(), id, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, response{
		Message:     "workload updated",
		VolumeID:    id,
		ContainerID: containerID,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec := s.orch.State(id)
	writeJSON(w, http.StatusOK, response{
		Message:     "state retrieved",
		VolumeID:    id,
		ContainerID: rec.ContainerID,
		State:       string(rec.State),
	})
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action := r.PathValue("action")

	if err := s.orch.Power(r.Context(), id, action); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, response{
		Message:  fmt.Sprintf("power action %q applied", action),
		VolumeID: id,
	})
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.files.List(r.PathValue("id"), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	contents, err := s.files.Read(r.PathValue("id"), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(contents)
}

func (s *Server) handleFileWrite(w http.ResponseWriter, r *http.Request) {
	contents, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read request body: %w", err))
		return
	}

	if err := s.files.Write(r.PathValue("id"), r.URL.Query().Get("path"), contents); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: "file written"})
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.files.Delete(r.PathValue("id"), r.URL.Query().Get("path")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: "file deleted"})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	name, err := s.files.Archive(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "archive created", "name": name})
}

func (s *Server) handleArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := s.files.Archives(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, archives)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("archive name is required"))
		return
	}

	if err := s.files.Rollback(r.PathValue("id"), req.Name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, response{Message: "rollback complete"})
}

func (s *Server) handleCredsGet(w http.ResponseWriter, r *http.Request) {
	login, err := s.creds.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, login)
}

func (s *Server) handleCredsReset(w http.ResponseWriter, r *http.Request) {
	login, err := s.creds.Reset(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, login)
}
