package catalog

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/score-import-etl/internal/domain"
)

// Seed is the on-disk form of an in-memory catalog. JSON documents parse
// as well since the decoder is YAML.
type Seed struct {
	Songs  []domain.Song  `yaml:"songs"`
	Charts []domain.Chart `yaml:"charts"`
}

// Memory is a Catalog held entirely in memory. It is immutable after
// construction and therefore safe for concurrent reads.
type Memory struct {
	songs  []domain.Song
	charts []domain.Chart
	byID   map[songKey]int
}

type songKey struct {
	game domain.Game
	id   int
}

// NewMemory builds a Memory catalog. Songs and charts are searched in the
// order given, so the first match wins.
func NewMemory(songs []domain.Song, charts []domain.Chart) *Memory {
	m := &Memory{
		songs:  songs,
		charts: charts,
		byID:   make(map[songKey]int, len(songs)),
	}
	for i, s := range songs {
		k := songKey{s.Game, s.ID}
		if _, dup := m.byID[k]; !dup {
			m.byID[k] = i
		}
	}
	return m
}

// ParseSeed decodes a YAML or JSON seed document into a Memory catalog.
func ParseSeed(data []byte) (*Memory, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse catalog seed: %w", err)
	}
	return NewMemory(seed.Songs, seed.Charts), nil
}

// Len returns the number of songs and charts held.
func (m *Memory) Len() (songs, charts int) {
	return len(m.songs), len(m.charts)
}

func (m *Memory) SongByID(_ context.Context, game domain.Game, id int) (*domain.Song, error) {
	i, ok := m.byID[songKey{game, id}]
	if !ok {
		return nil, nil
	}
	s := m.songs[i]
	return &s, nil
}

func (m *Memory) SongByTitle(_ context.Context, game domain.Game, title string, mode TitleMode) (*domain.Song, error) {
	for i := range m.songs {
		if m.songs[i].Game == game && TitleMatches(&m.songs[i], title, mode) {
			s := m.songs[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) ChartByHash(_ context.Context, game domain.Game, hash string) (*domain.Chart, error) {
	hash = NormalizeHash(hash)
	if hash == "" {
		return nil, nil
	}
	return m.findChart(func(c *domain.Chart) bool {
		return c.Game == game &&
			(NormalizeHash(c.HashMD5) == hash || NormalizeHash(c.HashSHA256) == hash)
	}), nil
}

func (m *Memory) ChartByInGameIDVersion(_ context.Context, game domain.Game, inGameID int, playtype domain.Playtype, difficulty, version string) (*domain.Chart, error) {
	return m.findChart(func(c *domain.Chart) bool {
		return c.Game == game && c.InGameID == inGameID && c.Playtype == playtype &&
			c.Difficulty == difficulty && c.InVersion(version)
	}), nil
}

func (m *Memory) PrimaryChartByInGameID(_ context.Context, game domain.Game, inGameID int, playtype domain.Playtype, difficulty string) (*domain.Chart, error) {
	return m.findChart(func(c *domain.Chart) bool {
		return c.Game == game && c.InGameID == inGameID && c.Playtype == playtype &&
			c.Difficulty == difficulty && c.IsPrimary
	}), nil
}

func (m *Memory) PrimaryChart(_ context.Context, game domain.Game, songID int, playtype domain.Playtype, difficulty string) (*domain.Chart, error) {
	return m.findChart(func(c *domain.Chart) bool {
		return c.Game == game && c.SongID == songID && c.Playtype == playtype &&
			c.Difficulty == difficulty && c.IsPrimary
	}), nil
}

func (m *Memory) ChartByVersion(_ context.Context, game domain.Game, songID int, playtype domain.Playtype, difficulty, version string) (*domain.Chart, error) {
	return m.findChart(func(c *domain.Chart) bool {
		return c.Game == game && c.SongID == songID && c.Playtype == playtype &&
			c.Difficulty == difficulty && c.InVersion(version)
	}), nil
}

func (m *Memory) findChart(match func(*domain.Chart) bool) *domain.Chart {
	for i := range m.charts {
		if match(&m.charts[i]) {
			c := m.charts[i]
			return &c
		}
	}
	return nil
}
