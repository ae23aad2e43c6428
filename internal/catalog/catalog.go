// Package catalog defines the read-only song and chart lookups used during
// conversion, an in-memory implementation and an LRU caching decorator.
//
// Every lookup returns (nil, nil) when nothing matches. Turning that into a
// DataNotFound failure is the caller's job; a non-nil error always means the
// underlying store failed.
package catalog

import (
	"context"
	"strings"

	"golang.org/x/text/cases"

	"github.com/couchcryptid/score-import-etl/internal/domain"
)

// TitleMode selects how SongByTitle compares titles.
type TitleMode int

const (
	// TitleExact compares byte for byte.
	TitleExact TitleMode = iota
	// TitleCaseInsensitive compares after Unicode case folding.
	TitleCaseInsensitive
)

func (m TitleMode) String() string {
	if m == TitleCaseInsensitive {
		return "fold"
	}
	return "exact"
}

// Catalog resolves songs and charts. Implementations must be safe for
// concurrent use.
type Catalog interface {
	SongByID(ctx context.Context, game domain.Game, id int) (*domain.Song, error)

	// SongByTitle matches the title or any alternate title.
	SongByTitle(ctx context.Context, game domain.Game, title string, mode TitleMode) (*domain.Song, error)

	// ChartByHash matches either the MD5 or the SHA-256 of the chart file.
	ChartByHash(ctx context.Context, game domain.Game, hash string) (*domain.Chart, error)

	// ChartByInGameIDVersion never substitutes the primary chart when no
	// chart exists for the version.
	ChartByInGameIDVersion(ctx context.Context, game domain.Game, inGameID int, playtype domain.Playtype, difficulty, version string) (*domain.Chart, error)

	PrimaryChartByInGameID(ctx context.Context, game domain.Game, inGameID int, playtype domain.Playtype, difficulty string) (*domain.Chart, error)

	PrimaryChart(ctx context.Context, game domain.Game, songID int, playtype domain.Playtype, difficulty string) (*domain.Chart, error)

	ChartByVersion(ctx context.Context, game domain.Game, songID int, playtype domain.Playtype, difficulty, version string) (*domain.Chart, error)
}

// FoldTitle returns the case-folded form of a title for case-insensitive
// comparison.
func FoldTitle(title string) string {
	// A Caser keeps state, so one is made per call.
	return cases.Fold().String(title)
}

// TitleMatches reports whether the song's title or one of its alternate
// titles equals the given title under mode.
func TitleMatches(song *domain.Song, title string, mode TitleMode) bool {
	eq := func(a string) bool { return a == title }
	if mode == TitleCaseInsensitive {
		folded := FoldTitle(title)
		eq = func(a string) bool { return FoldTitle(a) == folded }
	}
	if eq(song.Title) {
		return true
	}
	for _, alt := range song.AltTitles {
		if eq(alt) {
			return true
		}
	}
	return false
}

// NormalizeHash lower-cases a hex digest so hashes compare regardless of the
// case the source used.
func NormalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}
