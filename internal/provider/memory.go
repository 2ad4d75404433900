package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
)

var ErrUnknownChannel = errors.New("unknown channel")

// MemoryAuthor is the author shown on messages posted through Memory.
const MemoryAuthor = "community"

type memoryChannel struct {
	name     string
	private  bool
	members  map[string]bool
	messages []model.ChannelMessage
}

// Memory is an in-process channel provider used for local runs and tests.
type Memory struct {
	mu       sync.Mutex
	seq      int64
	last     time.Time
	channels map[string]*memoryChannel
}

// NewMemory creates an empty in-process provider.
func NewMemory() *Memory {
	return &Memory{channels: make(map[string]*memoryChannel)}
}

// CreateChannel allocates a sequential channel id.
func (m *Memory) CreateChannel(ctx context.Context, name string, private bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("mem-%d", m.seq)
	m.channels[id] = &memoryChannel{
		name:    NormalizeChannelName(name),
		private: private,
		members: make(map[string]bool),
	}
	return id, nil
}

// InviteMember records the member on the channel.
func (m *Memory) InviteMember(ctx context.Context, channelID, externalUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return ErrUnknownChannel
	}
	ch.members[externalUserID] = true
	return nil
}

// RemoveMember forgets the member.
func (m *Memory) RemoveMember(ctx context.Context, channelID, externalUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return ErrUnknownChannel
	}
	delete(ch.members, externalUserID)
	return nil
}

// PostMessage appends a message; false when the channel is unknown.
func (m *Memory) PostMessage(ctx context.Context, channelID, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return false
	}
	m.seq++
	ch.messages = append(ch.messages, model.ChannelMessage{
		ID:            fmt.Sprintf("msg-%d", m.seq),
		AuthorDisplay: MemoryAuthor,
		Text:          text,
		Timestamp:     m.nextTimestamp(),
	})
	return true
}

// EditMessage replaces a message text in place.
func (m *Memory) EditMessage(ctx context.Context, channelID, messageID, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return false
	}
	for i := range ch.messages {
		if ch.messages[i].ID == messageID {
			ch.messages[i].Text = text
			return true
		}
	}
	return false
}

// DeleteMessage drops a message.
func (m *Memory) DeleteMessage(ctx context.Context, channelID, messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return false
	}
	for i := range ch.messages {
		if ch.messages[i].ID == messageID {
			ch.messages = append(ch.messages[:i], ch.messages[i+1:]...)
			return true
		}
	}
	return false
}

// FetchMessages returns up to limit latest messages, oldest first.
func (m *Memory) FetchMessages(ctx context.Context, channelID string, limit int) ([]model.ChannelMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return nil, ErrUnknownChannel
	}
	limit = ClampLimit(limit)
	start := 0
	if len(ch.messages) > limit {
		start = len(ch.messages) - limit
	}
	out := make([]model.ChannelMessage, len(ch.messages)-start)
	copy(out, ch.messages[start:])
	return out, nil
}

// ChannelCount returns how many channels have been created.
func (m *Memory) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// ChannelName returns the stored (normalized) name of a channel.
func (m *Memory) ChannelName(channelID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	if !ok {
		return "", false
	}
	return ch.name, true
}

// IsMember reports whether externalUserID was invited to the channel.
func (m *Memory) IsMember(channelID, externalUserID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channelID]
	return ok && ch.members[externalUserID]
}

// nextTimestamp keeps message timestamps strictly increasing.
func (m *Memory) nextTimestamp() time.Time {
	now := time.Now().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Millisecond)
	}
	m.last = now
	return now
}
