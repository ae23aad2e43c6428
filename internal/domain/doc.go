// Package domain models rhythm game scores as they move through the import
// pipeline.
//
// # Sources
//
// Scores arrive from independent, mutually incompatible sources: manual batch
// uploads, e-amusement CSV exports, vendor API bridges and IR clients that
// submit from the cabinet. Each source has its own vocabulary for lamps and
// difficulties and its own way of identifying a chart:
//
//	songTitle   title or alternate title of the song, plus playtype and difficulty
//	songID      catalog song ID, plus playtype and difficulty
//	hash        content hash of the chart file (MD5 or SHA-256, BMS)
//	inGameID    the game's own numeric music ID, plus playtype, difficulty and version
//
// # Canonical Form
//
// A converter turns one raw record into a [DryScore]: percent and grade are
// derived from the raw score and the resolved chart, the lamp is mapped into
// the game's canonical vocabulary and hit counts are kept sparse, only holding
// what the source reported.
//
// # Failures
//
// Conversion of a single record fails with one of three kinds:
//
//	DataNotFound  the catalog has no matching song or chart
//	InvalidScore  a value breaks a game or source rule (percent above maximum,
//	              unknown lamp, inconsistent hit counts)
//	Internal      the catalog or the service broke one of its own invariants
//
// These are per-record: the rest of the submission still imports. A
// [FatalError] is different. It is raised while parsing the envelope and
// aborts the submission before any record is converted.
package domain
