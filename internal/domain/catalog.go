package domain

import "slices"

// Song identifies a musical track within a game.
type Song struct {
	ID        int      `json:"id" yaml:"id"`
	Game      Game     `json:"game" yaml:"game"`
	Title     string   `json:"title" yaml:"title"`
	AltTitles []string `json:"altTitles,omitempty" yaml:"altTitles"`
	Artist    string   `json:"artist,omitempty" yaml:"artist"`
}

// Chart is one playable difficulty of a Song for a playtype.
//
// Several charts may share a (song, playtype, difficulty) combination when a
// chart was revised between versions. Exactly one of them is primary; the
// others are kept for version-pinned lookups only.
type Chart struct {
	ID         string   `json:"chartID" yaml:"chartID"`
	SongID     int      `json:"songID" yaml:"songID"`
	Game       Game     `json:"game" yaml:"game"`
	Playtype   Playtype `json:"playtype" yaml:"playtype"`
	Difficulty string   `json:"difficulty" yaml:"difficulty"`
	Level      string   `json:"level,omitempty" yaml:"level"`
	IsPrimary  bool     `json:"isPrimary" yaml:"isPrimary"`
	Versions   []string `json:"versions,omitempty" yaml:"versions"`

	// Game-specific lookup and calculation fields. Zero means unknown.
	InGameID   int    `json:"inGameID,omitempty" yaml:"inGameID"`
	NoteCount  int    `json:"notecount,omitempty" yaml:"notecount"`
	HashMD5    string `json:"hashMD5,omitempty" yaml:"hashMD5"`
	HashSHA256 string `json:"hashSHA256,omitempty" yaml:"hashSHA256"`
}

// InVersion reports whether the chart is playable in the given version.
func (c *Chart) InVersion(version string) bool {
	return slices.Contains(c.Versions, version)
}
