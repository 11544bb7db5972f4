package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/state"
)

type Server struct {
	system *state.System
}

type FanRequest struct {
	State string `json:"state"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(system *state.System) *Server {
	return &Server{system: system}
}

func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	// Add CORS middleware
	corsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})

	mux.HandleFunc("/healthz", s.handleHealth)

	// Room endpoints
	mux.HandleFunc("/api/rooms", s.handleRooms)
	mux.HandleFunc("/api/rooms/", s.handleRoomOperations)

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting REST API server")

	return http.ListenAndServe(addr, corsHandler)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/api/rooms" {
		s.writeJSON(w, http.StatusOK, s.system.Snapshots())
	} else {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleRoomOperations(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(path, "/")

	if len(parts) < 1 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "Room name required")
		return
	}

	name := parts[0]

	if len(parts) == 1 {
		// /api/rooms/{name}
		if r.Method == http.MethodGet {
			s.getRoom(w, r, name)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	} else if len(parts) == 2 && parts[1] == "fan" {
		// /api/rooms/{name}/fan
		if r.Method == http.MethodPut {
			s.setFan(w, r, name)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	} else {
		s.writeError(w, http.StatusNotFound, "Invalid path")
	}
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request, name string) {
	snap, err := s.system.Snapshot(name)
	if err != nil {
		if errors.Is(err, state.ErrUnknownRoom) {
			s.writeError(w, http.StatusNotFound, "Room not found")
		} else {
			log.Error().Err(err).Str("room", name).Msg("Failed to snapshot room")
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) setFan(w http.ResponseWriter, r *http.Request, name string) {
	var req FanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if req.State != "on" && req.State != "off" {
		s.writeError(w, http.StatusBadRequest, "Invalid fan state. Valid states: on, off")
		return
	}

	if err := s.system.ManualFan(name, req.State == "on"); err != nil {
		if errors.Is(err, state.ErrUnknownRoom) {
			s.writeError(w, http.StatusNotFound, "Room not found")
		} else {
			log.Error().Err(err).Str("room", name).Msg("Failed to request fan state")
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	log.Info().Str("room", name).Str("state", req.State).Msg("Fan state requested via API")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
