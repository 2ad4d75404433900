// Package api exposes the community engines over REST and streams open
// conversations over WebSocket.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Users interface {
	IssueLinkCode(ctx context.Context, userID uuid.UUID) (*model.TelegramLinkCode, error)
}

type Pairing interface {
	CreateInvitation(ctx context.Context, fromUser, toUser uuid.UUID) (*model.BuddyPair, error)
	Confirm(ctx context.Context, pairID, actingUser uuid.UUID) (*model.BuddyPair, error)
	Archive(ctx context.Context, pairID, actingUser uuid.UUID) (*model.BuddyPair, error)
	Repair(ctx context.Context, pairID, actingUser uuid.UUID, newUserEmail string) (*model.BuddyPair, error)
}

type Groups interface {
	CreateGroup(ctx context.Context, in service.GroupInput) (*model.Group, error)
	UpdateGroup(ctx context.Context, groupID uuid.UUID, in service.GroupInput) (*model.Group, error)
	ArchiveGroup(ctx context.Context, groupID uuid.UUID) (*model.Group, error)
	EnsureChannel(ctx context.Context, groupID uuid.UUID) (string, error)
	AddMembersByEmail(ctx context.Context, groupID uuid.UUID, emails []string, role model.MemberRole) (*model.ImportReport, error)
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error
	ImportCSV(ctx context.Context, r io.Reader) (*model.ImportReport, error)
}

type Sessions interface {
	Create(ctx context.Context, createdBy uuid.UUID, in service.SessionInput) (*model.Session, error)
	Update(ctx context.Context, sessionID uuid.UUID, in service.SessionInput) (*model.Session, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
	DispatchReminders(ctx context.Context, now time.Time) (int, error)
}

type Queries interface {
	MyPair(ctx context.Context, userID uuid.UUID) (*service.PairView, error)
	MyGroups(ctx context.Context, userID uuid.UUID) ([]*model.MemberGroup, error)
	MySessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.SessionView, error)
	ListPairs(ctx context.Context, status model.PairStatus) ([]*service.PairView, error)
	ListGroups(ctx context.Context, includeArchived bool) ([]*model.Group, error)
	ListSessions(ctx context.Context, now time.Time) ([]model.SessionView, error)
	GroupMembers(ctx context.Context, groupID uuid.UUID) ([]*model.GroupMember, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]model.Identity, error)
}

type Chat interface {
	ResolveChannel(ctx context.Context, scope service.ChatScope, id, userID uuid.UUID) (string, error)
	Fetch(ctx context.Context, channelRef string) ([]model.ChannelMessage, error)
	Messages(ctx context.Context, scope service.ChatScope, id, userID uuid.UUID) ([]model.ChannelMessage, error)
	Send(ctx context.Context, scope service.ChatScope, id, userID uuid.UUID, text, idempotencyKey string) error
	SendTo(ctx context.Context, channelRef string, userID uuid.UUID, text, idempotencyKey string) error
	Edit(ctx context.Context, scope service.ChatScope, id, userID uuid.UUID, messageID, text string) error
	Delete(ctx context.Context, scope service.ChatScope, id, userID uuid.UUID, messageID string) error
}

// Config holds the HTTP settings.
type Config struct {
	Addr         string
	JWTSecret    string
	CORSOrigins  []string
	PollInterval time.Duration
}

// Deps are the engines the routes call into.
type Deps struct {
	Users    Users
	Pairing  Pairing
	Groups   Groups
	Sessions Sessions
	Queries  Queries
	Chat     Chat
}

// Server is the HTTP surface of the service.
type Server struct {
	deps         Deps
	jwtSecret    []byte
	corsOrigins  []string
	pollInterval time.Duration
	logger       *zap.Logger
	now          func() time.Time

	httpServer *http.Server
}

// NewServer builds the router and the HTTP server.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		deps:         deps,
		jwtSecret:    []byte(cfg.JWTSecret),
		corsOrigins:  cfg.CORSOrigins,
		pollInterval: cfg.PollInterval,
		logger:       logger,
		now:          time.Now,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me/pair", s.handleMyPair)
		r.Get("/me/groups", s.handleMyGroups)
		r.Get("/me/sessions", s.handleMySessions)
		r.Get("/users", s.handleSearchUsers)
		r.Post("/me/telegram-code", s.handleIssueLinkCode)

		r.Post("/pairs", s.handleCreatePair)
		r.Route("/pairs/{id}", func(r chi.Router) {
			r.Post("/confirm", s.handleConfirmPair)
			r.Post("/archive", s.handleArchivePair)
			r.Post("/repair", s.handleRepairPair)
			s.mountChat(r, service.ChatScopePair)
		})
		r.Route("/groups/{id}", func(r chi.Router) {
			s.mountChat(r, service.ChatScopeGroup)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)

			r.Get("/pairs", s.handleListPairs)
			r.Get("/groups", s.handleListGroups)
			r.Post("/groups", s.handleCreateGroup)
			r.Put("/groups/{id}", s.handleUpdateGroup)
			r.Post("/groups/{id}/archive", s.handleArchiveGroup)
			r.Post("/groups/{id}/channel", s.handleEnsureChannel)
			r.Get("/groups/{id}/members", s.handleGroupMembers)
			r.Post("/groups/{id}/members", s.handleAddMembers)
			r.Delete("/groups/{id}/members/{userID}", s.handleRemoveMember)
			r.Post("/imports", s.handleImport)
			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions", s.handleCreateSession)
			r.Put("/sessions/{id}", s.handleUpdateSession)
			r.Delete("/sessions/{id}", s.handleDeleteSession)
			r.Post("/reminders/dispatch", s.handleDispatchReminders)
		})
	})

	handler := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", idempotencyHeader},
	}).Handler(r)

	return otelhttp.NewHandler(handler, "community-api")
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
