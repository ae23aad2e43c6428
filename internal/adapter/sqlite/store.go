// Package sqlite implements catalog.Catalog over a read-only SQLite database.
//
// The schema is owned by the catalog seeding tools, not by this service:
//
//	songs            (game TEXT, id INTEGER, title TEXT, artist TEXT, PRIMARY KEY (game, id))
//	song_alt_titles  (game TEXT, song_id INTEGER, title TEXT)
//	charts           (chart_id TEXT PRIMARY KEY, game TEXT, song_id INTEGER, playtype TEXT,
//	                  difficulty TEXT, level TEXT, is_primary INTEGER, in_game_id INTEGER,
//	                  notecount INTEGER, hash_md5 TEXT, hash_sha256 TEXT)
//	chart_versions   (chart_id TEXT, version TEXT)
//
// Every connection is opened with query_only so the store can never write.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	msqlite "modernc.org/sqlite"

	"github.com/couchcryptid/score-import-etl/internal/catalog"
	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/observability"
)

const (
	listSep = "\x1f"

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

var registerFold sync.Once

// Store is a read-only catalog backed by SQLite.
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// Open connects to the catalog database at path.
func Open(path string, metrics *observability.Metrics) (*Store, error) {
	var regErr error
	registerFold.Do(func() {
		regErr = msqlite.RegisterDeterministicScalarFunction("casefold", 1, foldFunc)
	})
	if regErr != nil {
		return nil, fmt.Errorf("register casefold: %w", regErr)
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog db: %w", err)
	}
	return &Store{db: db, metrics: metrics}, nil
}

// dsn applies the pragmas to every pooled connection, not just the first.
func dsn(path string) string {
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=query_only(1)&_pragma=busy_timeout(5000)"
}

func foldFunc(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return catalog.FoldTitle(v), nil
	case []byte:
		return catalog.FoldTitle(string(v)), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("casefold: unsupported argument %T", v)
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const songColumns = `s.id, s.game, s.title, COALESCE(s.artist, ''),
	COALESCE((SELECT group_concat(a.title, char(31)) FROM song_alt_titles a
		WHERE a.game = s.game AND a.song_id = s.id), '')`

const chartColumns = `c.chart_id, c.song_id, c.game, c.playtype, c.difficulty,
	COALESCE(c.level, ''), c.is_primary, COALESCE(c.in_game_id, 0),
	COALESCE(c.notecount, 0), COALESCE(c.hash_md5, ''), COALESCE(c.hash_sha256, ''),
	COALESCE((SELECT group_concat(v.version, char(31)) FROM chart_versions v
		WHERE v.chart_id = c.chart_id), '')`

func (s *Store) SongByID(ctx context.Context, game domain.Game, id int) (*domain.Song, error) {
	return s.querySong(ctx, "song_id",
		`SELECT `+songColumns+` FROM songs s WHERE s.game = ? AND s.id = ? LIMIT 1`,
		game, id)
}

func (s *Store) SongByTitle(ctx context.Context, game domain.Game, title string, mode catalog.TitleMode) (*domain.Song, error) {
	col, alt := "s.title", "a.title"
	if mode == catalog.TitleCaseInsensitive {
		col, alt = "casefold(s.title)", "casefold(a.title)"
		title = catalog.FoldTitle(title)
	}
	query := `SELECT ` + songColumns + ` FROM songs s
		WHERE s.game = ? AND (` + col + ` = ? OR EXISTS (
			SELECT 1 FROM song_alt_titles a
			WHERE a.game = s.game AND a.song_id = s.id AND ` + alt + ` = ?))
		ORDER BY s.id LIMIT 1`
	return s.querySong(ctx, "song_title", query, game, title, title)
}

func (s *Store) ChartByHash(ctx context.Context, game domain.Game, hash string) (*domain.Chart, error) {
	hash = catalog.NormalizeHash(hash)
	if hash == "" {
		return nil, nil
	}
	return s.queryChart(ctx, "chart_hash",
		`SELECT `+chartColumns+` FROM charts c
		WHERE c.game = ? AND (lower(c.hash_md5) = ? OR lower(c.hash_sha256) = ?) LIMIT 1`,
		game, hash, hash)
}

func (s *Store) ChartByInGameIDVersion(ctx context.Context, game domain.Game, inGameID int, playtype domain.Playtype, difficulty, version string) (*domain.Chart, error) {
	return s.queryChart(ctx, "chart_ingame_version",
		`SELECT `+chartColumns+` FROM charts c
		WHERE c.game = ? AND c.in_game_id = ? AND c.playtype = ? AND c.difficulty = ?
		AND EXISTS (SELECT 1 FROM chart_versions v WHERE v.chart_id = c.chart_id AND v.version = ?)
		LIMIT 1`,
		game, inGameID, playtype, difficulty, version)
}

func (s *Store) PrimaryChartByInGameID(ctx context.Context, game domain.Game, inGameID int, playtype domain.Playtype, difficulty string) (*domain.Chart, error) {
	return s.queryChart(ctx, "chart_ingame_primary",
		`SELECT `+chartColumns+` FROM charts c
		WHERE c.game = ? AND c.in_game_id = ? AND c.playtype = ? AND c.difficulty = ? AND c.is_primary = 1
		LIMIT 1`,
		game, inGameID, playtype, difficulty)
}

func (s *Store) PrimaryChart(ctx context.Context, game domain.Game, songID int, playtype domain.Playtype, difficulty string) (*domain.Chart, error) {
	return s.queryChart(ctx, "chart_primary",
		`SELECT `+chartColumns+` FROM charts c
		WHERE c.game = ? AND c.song_id = ? AND c.playtype = ? AND c.difficulty = ? AND c.is_primary = 1
		LIMIT 1`,
		game, songID, playtype, difficulty)
}

func (s *Store) ChartByVersion(ctx context.Context, game domain.Game, songID int, playtype domain.Playtype, difficulty, version string) (*domain.Chart, error) {
	return s.queryChart(ctx, "chart_version",
		`SELECT `+chartColumns+` FROM charts c
		WHERE c.game = ? AND c.song_id = ? AND c.playtype = ? AND c.difficulty = ?
		AND EXISTS (SELECT 1 FROM chart_versions v WHERE v.chart_id = c.chart_id AND v.version = ?)
		LIMIT 1`,
		game, songID, playtype, difficulty, version)
}

func (s *Store) querySong(ctx context.Context, lookup, query string, args ...any) (*domain.Song, error) {
	var (
		song domain.Song
		alts string
	)
	err := s.queryRow(ctx, lookup, query, args, func(row *sql.Row) error {
		return row.Scan(&song.ID, &song.Game, &song.Title, &song.Artist, &alts)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s lookup: %w", lookup, err)
	}
	song.AltTitles = splitList(alts)
	return &song, nil
}

func (s *Store) queryChart(ctx context.Context, lookup, query string, args ...any) (*domain.Chart, error) {
	var (
		chart    domain.Chart
		primary  int
		versions string
	)
	err := s.queryRow(ctx, lookup, query, args, func(row *sql.Row) error {
		return row.Scan(
			&chart.ID, &chart.SongID, &chart.Game, &chart.Playtype, &chart.Difficulty,
			&chart.Level, &primary, &chart.InGameID, &chart.NoteCount,
			&chart.HashMD5, &chart.HashSHA256, &versions,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s lookup: %w", lookup, err)
	}
	chart.IsPrimary = primary != 0
	chart.Versions = splitList(versions)
	return &chart, nil
}

func (s *Store) queryRow(ctx context.Context, lookup, query string, args []any, scan func(*sql.Row) error) error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.CatalogQueryDuration.WithLabelValues(lookup).Observe(time.Since(start).Seconds())
		}
	}()
	return retryOnBusy(ctx, func() error {
		return scan(s.db.QueryRowContext(ctx, query, args...))
	})
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSep)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

var _ catalog.Catalog = (*Store)(nil)
