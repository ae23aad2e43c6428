package catalog

import (
	"context"
	"fmt"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/observability"
)

// Cached wraps a Catalog with in-memory LRU caches for songs and charts.
// Only found documents are cached so a song added to the store later
// resolves on the next lookup.
type Cached struct {
	inner   Catalog
	songs   *lruCache[domain.Song]
	charts  *lruCache[domain.Chart]
	metrics *observability.Metrics
}

// NewCached creates a cache decorator holding up to maxEntries songs and
// maxEntries charts.
func NewCached(inner Catalog, maxEntries int, metrics *observability.Metrics) *Cached {
	return &Cached{
		inner:   inner,
		songs:   newLRUCache[domain.Song](maxEntries),
		charts:  newLRUCache[domain.Chart](maxEntries),
		metrics: metrics,
	}
}

func (c *Cached) SongByID(ctx context.Context, game domain.Game, id int) (*domain.Song, error) {
	return cachedSong(c, "song_id", fmt.Sprintf("id:%s|%d", game, id), func() (*domain.Song, error) {
		return c.inner.SongByID(ctx, game, id)
	})
}

func (c *Cached) SongByTitle(ctx context.Context, game domain.Game, title string, mode TitleMode) (*domain.Song, error) {
	key := fmt.Sprintf("title:%s|%s|%s", game, mode, title)
	if mode == TitleCaseInsensitive {
		key = fmt.Sprintf("title:%s|%s|%s", game, mode, FoldTitle(title))
	}
	return cachedSong(c, "song_title", key, func() (*domain.Song, error) {
		return c.inner.SongByTitle(ctx, game, title, mode)
	})
}

func (c *Cached) ChartByHash(ctx context.Context, game domain.Game, hash string) (*domain.Chart, error) {
	return cachedChart(c, "chart_hash", fmt.Sprintf("hash:%s|%s", game, NormalizeHash(hash)), func() (*domain.Chart, error) {
		return c.inner.ChartByHash(ctx, game, hash)
	})
}

func (c *Cached) ChartByInGameIDVersion(ctx context.Context, game domain.Game, inGameID int, playtype domain.Playtype, difficulty, version string) (*domain.Chart, error) {
	key := fmt.Sprintf("igv:%s|%d|%s|%s|%s", game, inGameID, playtype, difficulty, version)
	return cachedChart(c, "chart_ingame_version", key, func() (*domain.Chart, error) {
		return c.inner.ChartByInGameIDVersion(ctx, game, inGameID, playtype, difficulty, version)
	})
}

func (c *Cached) PrimaryChartByInGameID(ctx context.Context, game domain.Game, inGameID int, playtype domain.Playtype, difficulty string) (*domain.Chart, error) {
	key := fmt.Sprintf("igp:%s|%d|%s|%s", game, inGameID, playtype, difficulty)
	return cachedChart(c, "chart_ingame_primary", key, func() (*domain.Chart, error) {
		return c.inner.PrimaryChartByInGameID(ctx, game, inGameID, playtype, difficulty)
	})
}

func (c *Cached) PrimaryChart(ctx context.Context, game domain.Game, songID int, playtype domain.Playtype, difficulty string) (*domain.Chart, error) {
	key := fmt.Sprintf("sp:%s|%d|%s|%s", game, songID, playtype, difficulty)
	return cachedChart(c, "chart_primary", key, func() (*domain.Chart, error) {
		return c.inner.PrimaryChart(ctx, game, songID, playtype, difficulty)
	})
}

func (c *Cached) ChartByVersion(ctx context.Context, game domain.Game, songID int, playtype domain.Playtype, difficulty, version string) (*domain.Chart, error) {
	key := fmt.Sprintf("sv:%s|%d|%s|%s|%s", game, songID, playtype, difficulty, version)
	return cachedChart(c, "chart_version", key, func() (*domain.Chart, error) {
		return c.inner.ChartByVersion(ctx, game, songID, playtype, difficulty, version)
	})
}

func cachedSong(c *Cached, lookup, key string, load func() (*domain.Song, error)) (*domain.Song, error) {
	if s, ok := c.songs.get(key); ok {
		c.observe(lookup, "hit")
		return &s, nil
	}
	c.observe(lookup, "miss")
	s, err := load()
	if err != nil || s == nil {
		return s, err
	}
	c.songs.put(key, *s)
	return s, nil
}

func cachedChart(c *Cached, lookup, key string, load func() (*domain.Chart, error)) (*domain.Chart, error) {
	if ch, ok := c.charts.get(key); ok {
		c.observe(lookup, "hit")
		return &ch, nil
	}
	c.observe(lookup, "miss")
	ch, err := load()
	if err != nil || ch == nil {
		return ch, err
	}
	c.charts.put(key, *ch)
	return ch, nil
}

func (c *Cached) observe(lookup, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.CatalogCache.WithLabelValues(lookup, result).Inc()
}
