package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/ernie/gamehost/internal/metrics"
	"github.com/ernie/gamehost/internal/realtime"
	"github.com/ernie/gamehost/internal/storage"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// publish forwards a row change to realtime subscribers
func (r *Router) publish(event, table, serverID string, row any) {
	if r.bus == nil {
		return
	}
	ev, err := domain.NewChangeEvent(event, table, serverID, row)
	if err != nil {
		log.Printf("Error encoding %s change: %v", table, err)
		return
	}
	if err := r.bus.Publish(ev); err != nil {
		log.Printf("Error publishing %s change for %s: %v", table, serverID, err)
		return
	}
	metrics.RealtimeEvents.WithLabelValues(table, event).Inc()
}

// handleGetServerStats returns the latest stats row for a server
func (r *Router) handleGetServerStats(w http.ResponseWriter, req *http.Request) {
	serverID := req.PathValue("server_id")
	if !realtime.ValidServerID(serverID) {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	stats, err := r.store.GetServerStats(req.Context(), serverID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "server stats not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleListCommands returns command history, newest first
func (r *Router) handleListCommands(w http.ResponseWriter, req *http.Request) {
	filter, err := parseCommandFilter(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	commands, err := r.store.ListCommands(req.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if commands == nil {
		commands = []domain.Command{}
	}
	writeJSON(w, http.StatusOK, commands)
}

// handleGetCommand returns a single command
func (r *Router) handleGetCommand(w http.ResponseWriter, req *http.Request) {
	cmd, err := r.store.GetCommand(req.Context(), req.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// CreateCommandRequest is the request body for queueing a command
type CreateCommandRequest struct {
	ServerID    string             `json:"server_id"`
	CommandType domain.CommandType `json:"command_type"`
	RconCommand string             `json:"rcon_command"`
	Description string             `json:"description"`
	Params      map[string]any     `json:"params"`
}

// handleCreateCommand queues a command in pending state on behalf of the caller
func (r *Router) handleCreateCommand(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)

	var body CreateCommandRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateCreateCommand(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := &domain.Command{
		ServerID:    body.ServerID,
		CommandType: body.CommandType,
		RconCommand: strings.TrimSpace(body.RconCommand),
		Description: body.Description,
		Params:      body.Params,
		CreatedBy:   claims.UserID,
	}
	if err := r.store.InsertCommand(req.Context(), cmd, r.opts.MaxAttempts); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create command")
		return
	}

	metrics.CommandsCreated.WithLabelValues(string(cmd.CommandType)).Inc()
	log.Printf("Queued %s command %s for server %s by %s", cmd.CommandType, cmd.ID, cmd.ServerID, claims.Username)
	r.publish(domain.EventInsert, domain.TableServerCommands, cmd.ServerID, cmd)
	writeJSON(w, http.StatusCreated, cmd)
}

// handleGetProfile returns the caller's profile
func (r *Router) handleGetProfile(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	profile, err := r.store.GetProfile(req.Context(), claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleUpdateProfile applies settings changes to the caller's profile
func (r *Router) handleUpdateProfile(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)

	var body domain.ProfileUpdate
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateProfileUpdate(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile, err := r.store.UpdateProfile(req.Context(), claims.UserID, body)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleRPC dispatches named remote procedures
func (r *Router) handleRPC(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)

	switch name := req.PathValue("name"); name {
	case "sync_user":
		user, err := r.store.GetUserByID(req.Context(), claims.UserID)
		if err != nil {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		profile, err := r.store.SyncProfile(req.Context(), user)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to sync user")
			return
		}
		writeJSON(w, http.StatusOK, profile)
	default:
		writeError(w, http.StatusNotFound, "unknown function "+name)
	}
}

// handleHealth returns health status
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics refreshes queue depth gauges and serves Prometheus metrics
func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	counts, err := r.store.CountCommandsByStatus(req.Context())
	if err != nil {
		log.Printf("Error counting commands: %v", err)
	} else {
		for _, status := range []domain.CommandStatus{
			domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted,
			domain.StatusFailed, domain.StatusCancelled,
		} {
			metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
		}
	}
	metrics.Handler().ServeHTTP(w, req)
}
