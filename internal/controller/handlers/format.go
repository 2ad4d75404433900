package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/service"
	"github.com/google/uuid"
)

const dateTimeLayout = "02.01.2006 15:04"

var pairStatusEmoji = map[model.PairStatus]string{
	model.PairStatusPending:   "⏳",
	model.PairStatusConfirmed: "✅",
	model.PairStatusArchived:  "🗄",
}

var sessionStatusEmoji = map[model.SessionStatus]string{
	model.SessionStatusUpcoming:  "🗓",
	model.SessionStatusLive:      "🔴",
	model.SessionStatusCompleted: "✔️",
}

// commandArg returns the text after the command word.
func commandArg(text string) string {
	_, arg, _ := strings.Cut(strings.TrimSpace(text), " ")
	return strings.TrimSpace(arg)
}

func formatPair(view *service.PairView, userID uuid.UUID) string {
	if view == nil {
		return "🤝 You have no buddy yet."
	}

	partner := "unknown"
	if p := view.PartnerIdentity(userID); p != nil {
		partner = p.DisplayName
		if partner == "" {
			partner = p.Email
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Buddy: %s\n", pairStatusEmoji[view.Status], partner)
	fmt.Fprintf(&sb, "Status: %s\n", view.Status)
	if view.IsPending() {
		fmt.Fprintf(&sb, "\nConfirm with /confirm %s", view.ID)
	}
	return sb.String()
}

func formatGroups(groups []*model.MemberGroup) string {
	if len(groups) == 0 {
		return "👥 You are not in any group yet."
	}

	var sb strings.Builder
	sb.WriteString("👥 Your groups:\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "\n• %s (%s)", g.Name, g.Type)
		if g.Role == model.MemberRoleAdmin {
			sb.WriteString(" ⭐️")
		}
	}
	return sb.String()
}

func formatSessions(sessions []model.SessionView) string {
	var sb strings.Builder
	for _, s := range sessions {
		if s.Status == model.SessionStatusCompleted {
			continue
		}
		fmt.Fprintf(&sb, "\n%s %s\n   %s - %s UTC",
			sessionStatusEmoji[s.Status],
			s.Title,
			s.StartTime.UTC().Format(dateTimeLayout),
			s.EndTime.UTC().Format("15:04"),
		)
	}
	if sb.Len() == 0 {
		return "🗓 No upcoming sessions."
	}
	return "🗓 Your sessions:\n" + sb.String()
}

// userMessage turns a service error into chat text.
func userMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrValidation):
		return "⚠️ " + err.Error()
	case errors.Is(err, service.ErrNotFound):
		return "🔍 " + err.Error()
	case errors.Is(err, service.ErrConflict):
		return "⛔️ " + err.Error()
	case errors.Is(err, service.ErrUnauthorized):
		return "🚫 You are not allowed to do that."
	case errors.Is(err, service.ErrRemoteService):
		return "📡 The chat provider is unavailable right now. Please try again."
	}
	return "❌ Something went wrong. Please try again later."
}
