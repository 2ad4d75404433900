// Package provider is the façade over the external channel-based messaging
// service. Engines never talk to the provider SDK directly.
package provider

import (
	"context"
	"strings"
	"unicode"

	"github.com/Freeeeeet/community_hub/internal/model"
)

const (
	// MaxChannelNameLength is the longest channel name the provider accepts.
	MaxChannelNameLength = 100

	DefaultFetchLimit = 50
	MaxFetchLimit     = 100
)

// ChannelProvider creates channels, manages their members and relays
// messages. Post/Edit/Delete report success as a flag: chat delivery is best
// effort and callers decide how to surface a failure.
type ChannelProvider interface {
	CreateChannel(ctx context.Context, name string, private bool) (string, error)
	InviteMember(ctx context.Context, channelID, externalUserID string) error
	RemoveMember(ctx context.Context, channelID, externalUserID string) error
	PostMessage(ctx context.Context, channelID, text string) bool
	EditMessage(ctx context.Context, channelID, messageID, text string) bool
	DeleteMessage(ctx context.Context, channelID, messageID string) bool
	// FetchMessages returns up to limit of the most recent messages, oldest
	// first. There is no cursor: older history is unreachable.
	FetchMessages(ctx context.Context, channelID string, limit int) ([]model.ChannelMessage, error)
}

// NormalizeChannelName lowercases name and replaces every run of
// non-alphanumeric characters with a single dash.
func NormalizeChannelName(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	out := strings.TrimRight(b.String(), "-")
	if len(out) > MaxChannelNameLength {
		out = strings.TrimRight(truncateRunes(out, MaxChannelNameLength), "-")
	}
	if out == "" {
		return "channel"
	}
	return out
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}

// ClampLimit bounds a fetch limit to what the provider serves in one page.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultFetchLimit
	}
	if limit > MaxFetchLimit {
		return MaxFetchLimit
	}
	return limit
}
