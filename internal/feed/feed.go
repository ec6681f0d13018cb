// Package feed publishes finalized round results for external consumers
// such as stream overlays.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/valkey-io/valkey-go"

	"github.com/Vasu1712/otoge-battle-backend/internal/models"
)

// Publisher sends one finalized round somewhere outside the process.
type Publisher interface {
	PublishRound(ctx context.Context, roomID string, entry models.HistoryEntry) error
	Close()
}

// RoundMessage is the JSON document written to the feed.
type RoundMessage struct {
	Room  string              `json:"room"`
	Entry models.HistoryEntry `json:"entry"`
}

// Encode renders the feed document for a round.
func Encode(roomID string, entry models.HistoryEntry) (string, error) {
	b, err := json.Marshal(RoundMessage{Room: roomID, Entry: entry})
	if err != nil {
		return "", fmt.Errorf("encode round: %w", err)
	}
	return string(b), nil
}

// Valkey publishes rounds on a pub/sub channel.
type Valkey struct {
	client  valkey.Client
	channel string
}

// NewValkey connects to addr.
func NewValkey(addr, channel string) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", addr, err)
	}
	return &Valkey{client: client, channel: channel}, nil
}

func (v *Valkey) PublishRound(ctx context.Context, roomID string, entry models.HistoryEntry) error {
	msg, err := Encode(roomID, entry)
	if err != nil {
		return err
	}
	cmd := v.client.B().Publish().Channel(v.channel).Message(msg).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("publish round to %s: %w", v.channel, err)
	}
	return nil
}

func (v *Valkey) Close() { v.client.Close() }

// Nop discards everything; used when no feed is configured.
type Nop struct{}

func (Nop) PublishRound(context.Context, string, models.HistoryEntry) error { return nil }
func (Nop) Close() {}
