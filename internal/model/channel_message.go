package model

import "time"

// ChannelMessage is a message owned by the channel provider. It is fetched on
// demand and never persisted here.
type ChannelMessage struct {
	ID            string    `json:"id"`
	AuthorDisplay string    `json:"author_display"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
}
