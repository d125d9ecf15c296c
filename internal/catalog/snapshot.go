package catalog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

// snapshot is the on-disk library metadata, an optimization so a cold start
// can render the listing before the first remote fetch. Artwork paths are
// re-derived from the artwork store rather than persisted.
type snapshot struct {
	FetchedAt time.Time      `json:"fetchedAt"`
	Cards     []snapshotCard `json:"cards"`
}

type snapshotCard struct {
	ID    string `json:"cardId"`
	Title string `json:"title"`
}

func (c *Cache) loadSnapshot() {
	if c.snapshotPath == "" {
		return
	}
	data, err := os.ReadFile(c.snapshotPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("library snapshot unreadable", zap.Error(err))
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn("library snapshot corrupt", zap.Error(err))
		return
	}

	cards := make([]yoto.Card, 0, len(snap.Cards))
	for _, entry := range snap.Cards {
		card := yoto.Card{ID: entry.ID, Title: entry.Title}
		if path, ok := c.art.Existing(card.ID); ok {
			card.ArtPath = path
		}
		cards = append(cards, card)
	}

	c.mu.Lock()
	c.cards = cards
	c.fetchedAt = snap.FetchedAt
	c.mu.Unlock()

	c.log.Info("library snapshot loaded",
		zap.Int("cards", len(cards)),
		zap.Time("fetched_at", snap.FetchedAt))
}

func (c *Cache) saveSnapshot(cards []yoto.Card) {
	if c.snapshotPath == "" {
		return
	}
	snap := snapshot{FetchedAt: c.now(), Cards: make([]snapshotCard, 0, len(cards))}
	for _, card := range cards {
		snap.Cards = append(snap.Cards, snapshotCard{ID: card.ID, Title: card.Title})
	}
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		c.log.Warn("library snapshot encode failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.snapshotPath), 0o755); err != nil {
		c.log.Warn("library snapshot dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.snapshotPath, payload, 0o600); err != nil {
		c.log.Warn("library snapshot write failed", zap.Error(err))
	}
}
