package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const helpText = "📚 Commands:\n\n" +
	"/link <code> - Link this chat to your learner account\n" +
	"/mypair - Show your buddy\n" +
	"/confirm <pair-id> - Confirm a buddy invitation\n" +
	"/mygroups - Groups you belong to\n" +
	"/sessions - Upcoming live sessions\n" +
	"/help - Show this help"

// HandleStart greets the sender and tells unlinked users how to link.
func (h *Handlers) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	user, err := h.users.GetByTelegramID(ctx, update.Message.From.ID)
	if err != nil {
		h.logger.Error("Failed to get user", zap.Int64("telegram_id", update.Message.From.ID), zap.Error(err))
		h.sendMessage(ctx, b, update.Message.Chat.ID, userMessage(err))
		return
	}

	greeting := fmt.Sprintf("👋 Hi, %s!\n\n", update.Message.From.FirstName)
	if user == nil {
		greeting += "Link your learner account first: get a code in the web app, then send /link <code>\n\n"
	} else {
		greeting += fmt.Sprintf("You are linked as %s.\n\n", user.Email)
	}
	h.sendMessage(ctx, b, update.Message.Chat.ID, greeting+helpText)
}

// HandleHelp lists the commands.
func (h *Handlers) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	h.sendMessage(ctx, b, update.Message.Chat.ID, helpText)
}

// HandleLink handles /link <code>. The code is issued to a signed-in
// learner by the web API.
func (h *Handlers) HandleLink(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	telegramID := update.Message.From.ID
	user, err := h.users.LinkTelegram(ctx, telegramID, commandArg(update.Message.Text))
	if err != nil {
		h.logger.Info("Telegram link rejected", zap.Int64("telegram_id", telegramID), zap.Error(err))
		h.sendMessage(ctx, b, update.Message.Chat.ID, userMessage(err))
		return
	}

	h.logger.Info("Telegram account linked",
		zap.Int64("telegram_id", telegramID),
		zap.String("user_id", user.ID.String()),
	)
	h.sendMessage(ctx, b, update.Message.Chat.ID, fmt.Sprintf("✅ Linked to %s.", user.Email))
}

// HandleMyPair shows the sender's buddy pair.
func (h *Handlers) HandleMyPair(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	view, err := h.queries.MyPair(ctx, user.ID)
	if err != nil {
		h.logger.Error("Failed to load pair", zap.String("user_id", user.ID.String()), zap.Error(err))
		h.sendMessage(ctx, b, update.Message.Chat.ID, userMessage(err))
		return
	}
	h.sendMessage(ctx, b, update.Message.Chat.ID, formatPair(view, user.ID))
}

// HandleConfirm handles /confirm <pair-id>.
func (h *Handlers) HandleConfirm(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	pairID, err := uuid.Parse(commandArg(update.Message.Text))
	if err != nil {
		h.sendMessage(ctx, b, update.Message.Chat.ID, "⚠️ Usage: /confirm <pair-id>")
		return
	}

	pair, err := h.pairing.Confirm(ctx, pairID, user.ID)
	if err != nil {
		h.logger.Warn("Pair confirmation failed",
			zap.String("pair_id", pairID.String()),
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		h.sendMessage(ctx, b, update.Message.Chat.ID, userMessage(err))
		return
	}
	h.sendMessage(ctx, b, update.Message.Chat.ID, fmt.Sprintf("✅ Pair %s is %s. Your buddy chat is ready.", pair.ID, pair.Status))
}

// HandleMyGroups lists the sender's groups.
func (h *Handlers) HandleMyGroups(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	groups, err := h.queries.MyGroups(ctx, user.ID)
	if err != nil {
		h.logger.Error("Failed to load groups", zap.String("user_id", user.ID.String()), zap.Error(err))
		h.sendMessage(ctx, b, update.Message.Chat.ID, userMessage(err))
		return
	}
	h.sendMessage(ctx, b, update.Message.Chat.ID, formatGroups(groups))
}

// HandleSessions lists upcoming sessions of the sender's groups.
func (h *Handlers) HandleSessions(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}

	sessions, err := h.queries.MySessions(ctx, user.ID, h.now())
	if err != nil {
		h.logger.Error("Failed to load sessions", zap.String("user_id", user.ID.String()), zap.Error(err))
		h.sendMessage(ctx, b, update.Message.Chat.ID, userMessage(err))
		return
	}
	h.sendMessage(ctx, b, update.Message.Chat.ID, formatSessions(sessions))
}
