package archive

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptRecord is the object written to S3 for each SOAP draft.
type TranscriptRecord struct {
	Version    string      `json:"version"`
	OrgID      string      `json:"org_id"`
	SessionID  uuid.UUID   `json:"session_id"`
	NoteID     uuid.UUID   `json:"note_id"`
	AuthorID   uuid.UUID   `json:"author_id"`
	Model      string      `json:"model"`
	Redacted   bool        `json:"redacted"`
	Transcript string      `json:"transcript"`
	SOAP       SOAPSection `json:"soap"`
	ArchivedAt time.Time   `json:"archived_at"`
}

// SOAPSection mirrors the drafted note.
type SOAPSection struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	SessionID  string `json:"session_id"`
	NoteID     string `json:"note_id"`
	OrgID      string `json:"org_id"`
	S3Key      string `json:"s3_key"`
	Model      string `json:"model"`
	ArchivedAt string `json:"archived_at"`
}
