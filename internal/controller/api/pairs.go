package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/service"
	"github.com/google/uuid"
)

const defaultSearchLimit = 20

type createPairRequest struct {
	PartnerID uuid.UUID `json:"partner_id"`
}

type repairPairRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleMyPair(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Queries.MyPair(r.Context(), callerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if view == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"pair": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pair":    view,
		"partner": view.PartnerIdentity(callerID(r)),
	})
}

func (s *Server) handleMyGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.deps.Queries.MyGroups(r.Context(), callerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

func (s *Server) handleMySessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Queries.MySessions(r.Context(), callerID(r), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid limit", service.ErrValidation))
			return
		}
		limit = n
	}
	users, err := s.deps.Queries.SearchUsers(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// handleIssueLinkCode gives the caller a one-time code for the bot's /link.
func (s *Server) handleIssueLinkCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.deps.Users.IssueLinkCode(r.Context(), callerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"code":       code.Code,
		"expires_at": code.ExpiresAt,
	})
}

func (s *Server) handleCreatePair(w http.ResponseWriter, r *http.Request) {
	var req createPairRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.PartnerID == uuid.Nil {
		s.writeError(w, r, fmt.Errorf("%w: partner_id is required", service.ErrValidation))
		return
	}

	pair, err := s.deps.Pairing.CreateInvitation(r.Context(), callerID(r), req.PartnerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (s *Server) handleConfirmPair(w http.ResponseWriter, r *http.Request) {
	s.pairAction(w, r, s.deps.Pairing.Confirm)
}

func (s *Server) handleArchivePair(w http.ResponseWriter, r *http.Request) {
	s.pairAction(w, r, s.deps.Pairing.Archive)
}

func (s *Server) pairAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, pairID, actingUser uuid.UUID) (*model.BuddyPair, error)) {
	pairID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pair, err := action(r.Context(), pairID, callerID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRepairPair(w http.ResponseWriter, r *http.Request) {
	pairID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req repairPairRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pair, err := s.deps.Pairing.Repair(r.Context(), pairID, callerID(r), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (s *Server) handleListPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.deps.Queries.ListPairs(r.Context(), model.PairStatus(r.URL.Query().Get("status")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pairs": pairs})
}
