package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vasu1712/otoge-battle-backend/internal/models"
)

func TestEncode(t *testing.T) {
	entry := models.HistoryEntry{
		Round:      3,
		Rule:       models.RuleEx,
		Ranking:    []models.RankEntry{{Rank: 1, UserID: "a", ExScore: 500, Points: 2}},
		FinishedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}

	msg, err := Encode("ROOM01", entry)
	require.NoError(t, err)

	var decoded RoundMessage
	require.NoError(t, json.Unmarshal([]byte(msg), &decoded))
	assert.Equal(t, "ROOM01", decoded.Room)
	assert.Equal(t, entry, decoded.Entry)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishRound(context.Background(), "ROOM01", models.HistoryEntry{}))
	p.Close()
}
