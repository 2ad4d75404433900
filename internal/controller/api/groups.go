package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/service"
	"go.uber.org/zap"
)

const (
	dateLayout    = "2006-01-02"
	maxImportBody = 10 << 20
)

type groupRequest struct {
	Name      string          `json:"name"`
	Type      model.GroupType `json:"type"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
}

func (req groupRequest) input() (service.GroupInput, error) {
	in := service.GroupInput{Name: req.Name, Type: req.Type}
	var err error
	if in.StartDate, err = parseDate(req.StartDate, "start_date"); err != nil {
		return in, err
	}
	if in.EndDate, err = parseDate(req.EndDate, "end_date"); err != nil {
		return in, err
	}
	return in, nil
}

func parseDate(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must look like %s", service.ErrValidation, field, dateLayout)
	}
	return &t, nil
}

type addMembersRequest struct {
	Emails []string         `json:"emails"`
	Role   model.MemberRole `json:"role"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	groups, err := s.deps.Queries.ListGroups(r.Context(), includeArchived)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	group, err := s.deps.Groups.CreateGroup(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	group, err := s.deps.Groups.UpdateGroup(r.Context(), groupID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleArchiveGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	group, err := s.deps.Groups.ArchiveGroup(r.Context(), groupID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleEnsureChannel(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ref, err := s.deps.Groups.EnsureChannel(r.Context(), groupID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"channel_ref": ref})
}

func (s *Server) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	members, err := s.deps.Queries.GroupMembers(r.Context(), groupID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

func (s *Server) handleAddMembers(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addMembersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = model.MemberRoleMember
	}

	report, err := s.deps.Groups.AddMembersByEmail(r.Context(), groupID, req.Emails, req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuidParam(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := uuidParam(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Groups.RemoveMember(r.Context(), groupID, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImport accepts the CSV either as a multipart "file" field or as the
// raw request body. The file is read once and never stored.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)

	var src io.Reader = r.Body
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: missing file field: %v", service.ErrValidation, err))
			return
		}
		defer file.Close()
		src = file
	}

	report, err := s.deps.Groups.ImportCSV(r.Context(), src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Membership import finished",
		zap.String("admin_id", callerID(r).String()),
		zap.Int("added", report.Added),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)),
	)
	writeJSON(w, http.StatusOK, report)
}
