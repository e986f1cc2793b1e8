package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/metrics"
	"github.com/ernie/gamehost/internal/realtime"
	"github.com/ernie/gamehost/internal/storage"
)

// ClaimRequest is sent by a worker asking for the next pending command
type ClaimRequest struct {
	ServerID string `json:"server_id"`
	Hostname string `json:"hostname"`
	PID      int    `json:"pid"`
}

// handleClaimCommand hands the oldest pending command to a worker
func (r *Router) handleClaimCommand(w http.ResponseWriter, req *http.Request) {
	var body ClaimRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ServerID != "" && !realtime.ValidServerID(body.ServerID) {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	cmd, err := r.store.ClaimCommand(req.Context(), body.ServerID, body.Hostname, body.PID)
	if errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to claim command")
		return
	}

	metrics.CommandTransitions.WithLabelValues(string(cmd.Status)).Inc()
	log.Printf("Command %s claimed by %s[%d]", cmd.ID, body.Hostname, body.PID)
	r.publish(domain.EventUpdate, domain.TableServerCommands, cmd.ServerID, cmd)
	writeJSON(w, http.StatusOK, cmd)
}

// handleUpdateCommand records a worker's status report
func (r *Router) handleUpdateCommand(w http.ResponseWriter, req *http.Request) {
	var body storage.CommandUpdate
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	cmd, err := r.store.UpdateCommand(req.Context(), req.PathValue("id"), body, r.opts.EnforceTransitions)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "command not found")
		return
	case errors.Is(err, storage.ErrIllegalTransition):
		metrics.CommandsRejected.Inc()
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to update command")
		return
	}

	metrics.CommandTransitions.WithLabelValues(cmd.Status.Label()).Inc()
	r.publish(domain.EventUpdate, domain.TableServerCommands, cmd.ServerID, cmd)
	writeJSON(w, http.StatusOK, cmd)
}

// handlePutServerStats replaces a server's stats snapshot
func (r *Router) handlePutServerStats(w http.ResponseWriter, req *http.Request) {
	serverID := req.PathValue("server_id")
	if !realtime.ValidServerID(serverID) {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	var stats domain.ServerStats
	if err := json.NewDecoder(req.Body).Decode(&stats); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stats.ServerID = serverID

	if err := r.store.UpsertServerStats(req.Context(), &stats); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store stats")
		return
	}
	r.publish(domain.EventUpdate, domain.TableServerStats, serverID, &stats)
	writeJSON(w, http.StatusOK, &stats)
}
