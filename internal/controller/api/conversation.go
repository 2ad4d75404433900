package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/relay"
	"github.com/Freeeeeet/community_hub/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 16 << 10
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	// Origins are enforced by the CORS policy and the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Frames sent to the client.
type conversationFrame struct {
	Type      string                 `json:"type"`
	State     string                 `json:"state,omitempty"`
	Messages  []model.ChannelMessage `json:"messages,omitempty"`
	Error     string                 `json:"error,omitempty"`
	UpdatedAt *time.Time             `json:"updated_at,omitempty"`
}

// Frames read from the client: {"type":"send","text":"..."} or
// {"type":"retry"}.
type conversationCommand struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wsWriter serializes writes; gorilla connections allow one writer at a
// time and frames come from both the poll loop and the read loop.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(frame conversationFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(frame)
}

func snapshotFrame(snap relay.Snapshot) conversationFrame {
	frame := conversationFrame{
		Type:     "messages",
		State:    snap.State.String(),
		Messages: snap.Messages,
	}
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt
		frame.UpdatedAt = &updated
	}
	if snap.Err != nil {
		frame.Error = "could not load messages"
	}
	return frame
}

// conversation streams one pair or group channel. Each connection owns its
// own poll loop, which stops when the socket closes.
func (s *Server) conversation(w http.ResponseWriter, r *http.Request, scope service.ChatScope, id uuid.UUID) {
	userID := callerID(r)
	channelRef, err := s.deps.Chat.ResolveChannel(r.Context(), scope, id, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxInboundSize)

	out := &wsWriter{conn: conn}
	logger := s.logger.With(
		zap.String("scope", string(scope)),
		zap.String("id", id.String()),
		zap.String("user_id", userID.String()),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conv := relay.New(
		func(ctx context.Context) ([]model.ChannelMessage, error) {
			return s.deps.Chat.Fetch(ctx, channelRef)
		},
		func(ctx context.Context, text string) error {
			return s.deps.Chat.SendTo(ctx, channelRef, userID, text, "")
		},
		relay.Options{
			Interval: s.pollInterval,
			Logger:   logger,
			OnUpdate: func(snap relay.Snapshot) {
				if err := out.write(snapshotFrame(snap)); err != nil {
					logger.Debug("Conversation write failed", zap.Error(err))
					cancel()
				}
			},
		},
	)
	if _, err := conv.Open(ctx); err != nil {
		logger.Error("Failed to open conversation", zap.Error(err))
		return
	}
	defer conv.Close()
	logger.Debug("Conversation opened")

	for {
		var cmd conversationCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				logger.Debug("Conversation read ended", zap.Error(err))
			}
			return
		}

		switch cmd.Type {
		case "send":
			if err := conv.Send(ctx, cmd.Text); err != nil {
				_ = out.write(conversationFrame{Type: "error", Error: sendErrorText(err)})
			}
		case "retry":
			conv.Retry()
		default:
			_ = out.write(conversationFrame{Type: "error", Error: "unknown command"})
		}
	}
}

// sendErrorText reports expected failures verbatim and hides the rest.
func sendErrorText(err error) string {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrRateLimited),
		errors.Is(err, service.ErrRemoteService):
		return err.Error()
	}
	return "message was not sent"
}
