package domain

// Game identifies a rhythm game whose scores the service can import.
type Game string

const (
	GameIIDX     Game = "iidx"
	GameBMS      Game = "bms"
	GameSDVX     Game = "sdvx"
	GameCHUNITHM Game = "chunithm"
	GameMaimaiDX Game = "maimaidx"
	GamePopn     Game = "popn"
)

// Playtype is a game's distinct play configuration, e.g. single vs double.
type Playtype string

const (
	PlaytypeSP     Playtype = "SP"
	PlaytypeDP     Playtype = "DP"
	Playtype7K     Playtype = "7K"
	Playtype14K    Playtype = "14K"
	PlaytypeSingle Playtype = "Single"
	Playtype9B     Playtype = "9B"
)

// ImportType names a source format. Every parser is registered under one.
type ImportType string

const (
	ImportBatchManual  ImportType = "file/batch-manual"
	ImportDirectManual ImportType = "ir/direct-manual"
	ImportIIDXCSV      ImportType = "file/eamusement-iidx-csv"
	ImportARCSDVX      ImportType = "api/arc-sdvx"
	ImportFervidex     ImportType = "ir/fervidex"
)
