package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/Freeeeeet/community_hub/internal/metrics"
	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/bwmarrin/discordgo"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	defaultCallTimeout = 10 * time.Second
	readRetries        = 2
	readRetryBase      = 300 * time.Millisecond

	memberPermissions = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionReadMessageHistory
)

// DiscordConfig configures the Discord-backed provider.
type DiscordConfig struct {
	Token      string
	GuildID    string
	CategoryID string // optional parent category for created channels
	Timeout    time.Duration
}

// Discord implements ChannelProvider with text channels of a single guild.
// Private channels hide themselves from @everyone; members are granted
// access with per-user permission overwrites.
type Discord struct {
	session    *discordgo.Session
	guildID    string
	categoryID string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewDiscord opens a bot session for the configured guild.
func NewDiscord(cfg DiscordConfig, logger *zap.Logger) (*Discord, error) {
	if cfg.Token == "" || cfg.GuildID == "" {
		return nil, fmt.Errorf("discord token and guild id are required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &Discord{
		session:    session,
		guildID:    cfg.GuildID,
		categoryID: cfg.CategoryID,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// CreateChannel creates a text channel. Private channels deny @everyone.
func (d *Discord) CreateChannel(ctx context.Context, name string, private bool) (string, error) {
	data := discordgo.GuildChannelCreateData{
		Name:     NormalizeChannelName(name),
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: d.categoryID,
	}
	if private {
		// The @everyone role shares its id with the guild.
		data.PermissionOverwrites = []*discordgo.PermissionOverwrite{{
			ID:   d.guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		}}
	}

	var channelID string
	err := d.call(ctx, "create_channel", func(ctx context.Context) error {
		ch, err := d.session.GuildChannelCreateComplex(d.guildID, data, discordgo.WithContext(ctx))
		if err != nil {
			return err
		}
		channelID = ch.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create channel %q: %w", data.Name, err)
	}

	d.logger.Info("Discord channel created",
		zap.String("channel_id", channelID),
		zap.String("name", data.Name),
		zap.Bool("private", private),
	)
	return channelID, nil
}

// InviteMember grants the member view and send permissions.
func (d *Discord) InviteMember(ctx context.Context, channelID, externalUserID string) error {
	err := d.call(ctx, "invite_member", func(ctx context.Context) error {
		return d.session.ChannelPermissionSet(channelID, externalUserID,
			discordgo.PermissionOverwriteTypeMember, memberPermissions, 0, discordgo.WithContext(ctx))
	})
	if err != nil {
		return fmt.Errorf("invite %s to %s: %w", externalUserID, channelID, err)
	}
	return nil
}

// RemoveMember deletes the member's permission overwrite.
func (d *Discord) RemoveMember(ctx context.Context, channelID, externalUserID string) error {
	err := d.call(ctx, "remove_member", func(ctx context.Context) error {
		return d.session.ChannelPermissionDelete(channelID, externalUserID, discordgo.WithContext(ctx))
	})
	if err != nil {
		return fmt.Errorf("remove %s from %s: %w", externalUserID, channelID, err)
	}
	return nil
}

// PostMessage sends text as the bot account.
func (d *Discord) PostMessage(ctx context.Context, channelID, text string) bool {
	err := d.call(ctx, "post_message", func(ctx context.Context) error {
		_, err := d.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		d.logger.Warn("Failed to post message", zap.String("channel_id", channelID), zap.Error(err))
		return false
	}
	return true
}

// EditMessage edits a message the bot posted.
func (d *Discord) EditMessage(ctx context.Context, channelID, messageID, text string) bool {
	err := d.call(ctx, "edit_message", func(ctx context.Context) error {
		_, err := d.session.ChannelMessageEdit(channelID, messageID, text, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		d.logger.Warn("Failed to edit message",
			zap.String("channel_id", channelID),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// DeleteMessage deletes a message the bot posted.
func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) bool {
	err := d.call(ctx, "delete_message", func(ctx context.Context) error {
		return d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	})
	if err != nil {
		d.logger.Warn("Failed to delete message",
			zap.String("channel_id", channelID),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// FetchMessages is the only idempotent read, so it is the only call retried.
func (d *Discord) FetchMessages(ctx context.Context, channelID string, limit int) ([]model.ChannelMessage, error) {
	limit = ClampLimit(limit)

	var raw []*discordgo.Message
	backoff := retry.WithMaxRetries(readRetries, retry.NewExponential(readRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := d.call(ctx, "fetch_messages", func(ctx context.Context) error {
			msgs, err := d.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
			if err != nil {
				return err
			}
			raw = msgs
			return nil
		})
		if isTemporary(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch messages of %s: %w", channelID, err)
	}

	return convertMessages(raw), nil
}

// call applies the per-call timeout and records the outcome.
func (d *Discord) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := fn(callCtx)
	metrics.ProviderCalls.WithLabelValues(op, metrics.Result(err)).Inc()
	return err
}

// convertMessages maps Discord messages (newest first) to ChannelMessages
// ordered oldest first.
func convertMessages(raw []*discordgo.Message) []model.ChannelMessage {
	out := make([]model.ChannelMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		m := raw[i]
		if m == nil {
			continue
		}
		author := "unknown"
		if m.Author != nil {
			author = m.Author.Username
		}
		out = append(out, model.ChannelMessage{
			ID:            m.ID,
			AuthorDisplay: author,
			Text:          m.Content,
			Timestamp:     m.Timestamp,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func isTemporary(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return false
}
