package domain

import (
	"context"
	"time"
)

// InboundMessage is an unprocessed submission read from the source topic.
// The value is the raw payload; headers carry the import type and any
// request metadata the parser needs.
type InboundMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Message headers with a meaning to the importer. Headers starting with
// HeaderOptionPrefix become parser options with the prefix removed; every
// other header is passed to the parser as a request header.
const (
	HeaderImportType   = "import-type"
	HeaderOptionPrefix = "option-"
)
