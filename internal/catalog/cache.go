// Package catalog fronts the content library with a cache-first policy:
// listings are served from memory inside a max-age window, chapters are
// fetched per card on demand, and artwork is persisted to a content-addressed
// file store so repeat lookups never touch the network.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/api"
	"github.com/jayheavner/yoto-esp32-controller/pkg/yoto"
)

// DefaultMaxAge is how long a library listing stays fresh.
const DefaultMaxAge = 5 * time.Minute

// ErrUnknownCard is returned when a card id is not present in the library.
var ErrUnknownCard = errors.New("unknown card")

// Backend is the slice of the cloud API the cache needs.
type Backend interface {
	Library(ctx context.Context) ([]api.LibraryEntry, error)
	Detail(ctx context.Context, cardID string) (api.CardDetail, error)
	FetchBinary(ctx context.Context, assetURL string) ([]byte, string, error)
}

// Config configures the cache.
type Config struct {
	// ArtDir is the artwork cache directory.
	ArtDir string
	// SnapshotPath optionally persists library metadata between runs.
	SnapshotPath string
	MaxAge       time.Duration
}

// Cache is the local mirror of the content library.
type Cache struct {
	backend Backend
	log     *zap.Logger
	art     *artStore
	maxAge  time.Duration
	now     func() time.Time

	snapshotPath string

	mu        sync.Mutex
	cards     []yoto.Card
	artURLs   map[string]string
	chapters  map[string][]yoto.Chapter
	fetchedAt time.Time
}

// NewCache creates a cache. When a snapshot path is configured and a snapshot
// exists, the listing is pre-seeded from it so a cold start can render
// without a remote fetch.
func NewCache(backend Backend, cfg Config, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	art, err := newArtStore(cfg.ArtDir)
	if err != nil {
		return nil, fmt.Errorf("artwork store: %w", err)
	}

	c := &Cache{
		backend:      backend,
		log:          log,
		art:          art,
		maxAge:       cfg.MaxAge,
		now:          time.Now,
		snapshotPath: cfg.SnapshotPath,
		artURLs:      map[string]string{},
		chapters:     map[string][]yoto.Chapter{},
	}
	c.loadSnapshot()
	return c, nil
}

// List returns the library listing. The cached listing is served while
// fresher than the max age unless force is set; otherwise the whole cache is
// replaced atomically from a remote fetch, so concurrent readers see either
// the old or the new listing, never a partial one.
func (c *Cache) List(ctx context.Context, force bool) ([]yoto.Card, error) {
	c.mu.Lock()
	if !force && c.cards != nil && c.now().Sub(c.fetchedAt) < c.maxAge {
		out := c.copyCardsLocked()
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	entries, err := c.backend.Library(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch library: %w", err)
	}

	cards := make([]yoto.Card, 0, len(entries))
	artURLs := make(map[string]string, len(entries))
	for _, entry := range entries {
		card := yoto.Card{ID: entry.CardID, Title: entry.Card.Title}
		// Disk check precedes any artwork URL use: a cached file short-
		// circuits the remote fetch entirely.
		if path, ok := c.art.Existing(card.ID); ok {
			card.ArtPath = path
		}
		if url := entry.Card.Metadata.Cover.ImageL; url != "" {
			artURLs[card.ID] = url
		}
		cards = append(cards, card)
	}

	c.mu.Lock()
	c.cards = cards
	c.artURLs = artURLs
	c.fetchedAt = c.now()
	out := c.copyCardsLocked()
	c.mu.Unlock()

	c.log.Info("library refreshed", zap.Int("cards", len(cards)))
	c.saveSnapshot(cards)
	return out, nil
}

// Chapters returns a card's chapter entries, fetching the detail document if
// not resident. An empty (non-nil) slice means the card has no chapters; a
// fetch failure is returned as an error.
func (c *Cache) Chapters(ctx context.Context, cardID string) ([]yoto.Chapter, error) {
	c.mu.Lock()
	if chapters, ok := c.chapters[cardID]; ok {
		out := make([]yoto.Chapter, len(chapters))
		copy(out, chapters)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	detail, err := c.backend.Detail(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("fetch detail for %s: %w", cardID, err)
	}

	chapters := make([]yoto.Chapter, 0, len(detail.Card.Content.Chapters))
	for _, chap := range detail.Card.Content.Chapters {
		chapters = append(chapters, yoto.Chapter{
			Key:      chap.Key,
			Title:    chap.Title,
			Duration: chap.Duration,
			IconURL:  chap.Display.Icon16x16,
		})
	}

	c.mu.Lock()
	c.chapters[cardID] = chapters
	c.mu.Unlock()

	out := make([]yoto.Chapter, len(chapters))
	copy(out, chapters)
	return out, nil
}

// Artwork returns the local path of a card's artwork, fetching and persisting
// it on first reference. remoteURL may be empty, in which case the URL
// recorded by the last listing fetch is used. Any failure is logged and
// reported as an empty path so a missing thumbnail never blocks rendering.
func (c *Cache) Artwork(ctx context.Context, cardID string, remoteURL string) string {
	if path, ok := c.art.Existing(cardID); ok {
		return path
	}

	if remoteURL == "" {
		c.mu.Lock()
		remoteURL = c.artURLs[cardID]
		c.mu.Unlock()
	}
	if remoteURL == "" {
		c.log.Warn("no artwork url known", zap.String("card_id", cardID))
		return ""
	}

	data, contentType, err := c.backend.FetchBinary(ctx, remoteURL)
	if err != nil {
		c.log.Warn("artwork fetch failed",
			zap.String("card_id", cardID), zap.Error(err))
		return ""
	}

	path, err := c.art.Put(cardID, contentType, data)
	if err != nil {
		c.log.Warn("artwork write failed",
			zap.String("card_id", cardID), zap.Error(err))
		return ""
	}
	return path
}

// Title resolves a card id to its title, falling back to the id itself when
// the card is not in the cached listing.
func (c *Cache) Title(cardID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cards {
		if c.cards[i].ID == cardID && c.cards[i].Title != "" {
			return c.cards[i].Title
		}
	}
	return cardID
}

// Card returns the cached entry for a single card id.
func (c *Cache) Card(cardID string) (yoto.Card, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cards {
		if c.cards[i].ID == cardID {
			return c.cards[i], nil
		}
	}
	return yoto.Card{}, fmt.Errorf("%w: %s", ErrUnknownCard, cardID)
}

// copyCardsLocked must be called with the lock held.
func (c *Cache) copyCardsLocked() []yoto.Card {
	out := make([]yoto.Card, len(c.cards))
	copy(out, c.cards)
	return out
}
