package api

import (
	"net/http"

	"github.com/Freeeeeet/community_hub/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const idempotencyHeader = "Idempotency-Key"

type messageRequest struct {
	Text string `json:"text"`
}

// mountChat registers the message routes of one chat scope under a router
// whose pattern carries {id}.
func (s *Server) mountChat(r chi.Router, scope service.ChatScope) {
	r.Get("/messages", s.chatHandler(scope, s.listMessages))
	r.Post("/messages", s.chatHandler(scope, s.sendMessage))
	r.Put("/messages/{messageID}", s.chatHandler(scope, s.editMessage))
	r.Delete("/messages/{messageID}", s.chatHandler(scope, s.deleteMessage))
	r.Get("/conversation", s.chatHandler(scope, s.conversation))
}

type chatFunc func(w http.ResponseWriter, r *http.Request, scope service.ChatScope, id uuid.UUID)

func (s *Server) chatHandler(scope service.ChatScope, fn chatFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		fn(w, r, scope, id)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request, scope service.ChatScope, id uuid.UUID) {
	msgs, err := s.deps.Chat.Messages(r.Context(), scope, id, callerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, scope service.ChatScope, id uuid.UUID) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key := r.Header.Get(idempotencyHeader)
	if err := s.deps.Chat.Send(r.Context(), scope, id, callerID(r), req.Text, key); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request, scope service.ChatScope, id uuid.UUID) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	messageID := chi.URLParam(r, "messageID")
	if err := s.deps.Chat.Edit(r.Context(), scope, id, callerID(r), messageID, req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request, scope service.ChatScope, id uuid.UUID) {
	messageID := chi.URLParam(r, "messageID")
	if err := s.deps.Chat.Delete(r.Context(), scope, id, callerID(r), messageID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
