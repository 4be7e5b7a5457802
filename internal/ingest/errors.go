package ingest

import "errors"

var (
	// ErrEmptyBatch means nothing survived normalization; the cycle should stop quietly.
	ErrEmptyBatch = errors.New("no records after normalization")

	// ErrSourceUnavailable means an input file or stream could not be opened.
	ErrSourceUnavailable = errors.New("source unavailable")
)
