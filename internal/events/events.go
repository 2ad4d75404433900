// Package events publishes domain events for downstream consumers
// (notifications, analytics). Publishing is fire-and-forget from the
// services' point of view: a failed publish is logged, never rolled back.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	kgo "github.com/segmentio/kafka-go"
)

// Type names a domain event.
type Type string

const (
	PairInvited        Type = "pair.invited"
	PairConfirmed      Type = "pair.confirmed"
	PairArchived       Type = "pair.archived"
	GroupCreated       Type = "group.created"
	GroupArchived      Type = "group.archived"
	GroupChannelReady  Type = "group.channel_created"
	MembershipAdded    Type = "membership.added"
	MembershipRemoved  Type = "membership.removed"
	SessionScheduled   Type = "session.created"
	SessionRescheduled Type = "session.updated"
	SessionCancelled   Type = "session.deleted"
	SessionReminded    Type = "session.reminded"
)

// Event is one domain fact, published as JSON.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       Type              `json:"type"`
	Subject    uuid.UUID         `json:"subject"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// New creates an event stamped with a fresh id and the current time.
func New(t Type, subject uuid.UUID, attrs map[string]string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		Attrs:      attrs,
	}
}

// Publisher ships domain events to the outside world.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// KafkaPublisher writes events as JSON, keyed by subject so that all events
// of one entity land on the same partition.
type KafkaPublisher struct {
	w *kgo.Writer
}

// NewKafkaPublisher writes events to topic on a comma-separated broker list.
func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no kafka brokers given")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	return &KafkaPublisher{w: &kgo.Writer{
		Addr:         kgo.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}, nil
}

// Publish writes e and waits for the broker to acknowledge it.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kgo.Message{
		Key:   []byte(e.Subject.String()),
		Value: b,
		Time:  e.OccurredAt,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// Recorder keeps published events in memory. Tests use it to assert on
// what a service emitted.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types returns the types of recorded events in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
