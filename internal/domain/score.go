package domain

import "time"

// ImportContext holds the facts shared by every record of one submission.
// It is passed by value and never modified after the parser builds it.
type ImportContext struct {
	ImportType ImportType `json:"importType"`
	Game       Game       `json:"game"`
	Service    string     `json:"service"`
	Version    string     `json:"version,omitempty"`

	// Playtype is set when the whole submission is for one playtype,
	// e.g. a CSV export requested for SP.
	Playtype Playtype `json:"playtype,omitempty"`

	// SoftwareModel is the raw client model string the version was derived from.
	SoftwareModel string `json:"softwareModel,omitempty"`
}

// ScoreData is the rankable part of a canonical score.
type ScoreData struct {
	Score   float64 `json:"score"`
	Percent float64 `json:"percent"`
	Grade   string  `json:"grade"`
	Lamp    string  `json:"lamp"`

	// Judgements and HitMeta only hold fields the source reported.
	Judgements map[string]int     `json:"judgements"`
	HitMeta    map[string]float64 `json:"hitMeta"`

	ESD *float64 `json:"esd,omitempty"`
}

// DryScore is a validated, canonical score that has not been persisted yet.
type DryScore struct {
	Game         Game       `json:"game"`
	Service      string     `json:"service"`
	ImportType   ImportType `json:"importType"`
	Comment      string     `json:"comment,omitempty"`
	TimeAchieved *time.Time `json:"timeAchieved"`

	SongID     int      `json:"songID"`
	ChartID    string   `json:"chartID"`
	Playtype   Playtype `json:"playtype"`
	Difficulty string   `json:"difficulty"`

	ScoreData ScoreData `json:"scoreData"`

	// ScoreMeta carries source extras (gauge type, modifiers) that do not
	// participate in ranking.
	ScoreMeta map[string]any `json:"scoreMeta"`
}
