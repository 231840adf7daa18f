package feedback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"
)

// ArchiveConfig configures transcript archival to object storage.
type ArchiveConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Archive stores finished interview transcripts in a Supabase bucket so
// reports can be re-generated later.
type Archive struct {
	client *supabase.Client
	bucket string
}

// NewArchive builds the archive, or returns an error if the storage client
// cannot be constructed. Callers treat a nil archive as "archival disabled".
func NewArchive(config ArchiveConfig) (*Archive, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("feedback: create storage client: %w", err)
	}
	return &Archive{client: client, bucket: config.Bucket}, nil
}

// Store uploads the session record as JSON under
// transcripts/<sessionID>/<timestamp>.json.
func (a *Archive) Store(session Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("feedback: marshal transcript: %w", err)
	}
	key := fmt.Sprintf("transcripts/%s/%s.json", session.ID, time.Now().UTC().Format("20060102T150405Z"))
	if _, err := a.client.Storage.UploadFile(a.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("feedback: upload transcript: %w", err)
	}
	return nil
}
