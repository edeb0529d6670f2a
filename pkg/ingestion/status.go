// Package ingestion owns the document lifecycle: upload, versioned storage,
// queueing, and the parse/chunk/embed/index pipeline the worker drives. Status
// transitions are enforced here so a crashed worker can never leave a document
// in a state the pipeline cannot re-enter.
package ingestion

// Status is a stage of the document processing lifecycle.
type Status string

const (
	StatusUploaded   Status = "UPLOADED"
	StatusProcessing Status = "PROCESSING"
	StatusParsed     Status = "PARSED"
	StatusChunked    Status = "CHUNKED"
	StatusEmbedded   Status = "EMBEDDED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// transitions lists the legal forward edges. Intermediate states may return
// to PROCESSING because a retried document restarts the whole pipeline, and
// FAILED may as well so a manual requeue works without touching the row.
var transitions = map[Status][]Status{
	StatusUploaded:   {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusParsed, StatusFailed},
	StatusParsed:     {StatusProcessing, StatusChunked, StatusFailed},
	StatusChunked:    {StatusProcessing, StatusEmbedded, StatusFailed},
	StatusEmbedded:   {StatusProcessing, StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {StatusProcessing},
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether the pipeline never advances past s on its own.
// FAILED is terminal for the worker even though a requeue can leave it.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is legal. Re-entering
// the current state is always allowed; status updates are not required to be
// exactly-once.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if next == s {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
