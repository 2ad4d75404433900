package api

import (
	"net/http"

	"github.com/Freeeeeet/community_hub/internal/service"
	"go.uber.org/zap"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Queries.ListSessions(r.Context(), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var in service.SessionInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.deps.Sessions.Create(r.Context(), callerID(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in service.SessionInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.deps.Sessions.Update(r.Context(), sessionID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Sessions.Delete(r.Context(), sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDispatchReminders(w http.ResponseWriter, r *http.Request) {
	sent, err := s.deps.Sessions.DispatchReminders(r.Context(), s.now().UTC())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Reminders dispatched on demand", zap.Int("sent", sent))
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
