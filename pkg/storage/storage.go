package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ContentTypeCSV is used for ledger exports
	ContentTypeCSV = "text/csv"

	exportDateLayout = "20060102"
)

// UploadResult contains the result of an upload operation
type UploadResult struct {
	Key        string    `json:"key"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// PresignedURLResult contains a presigned URL for direct download
type PresignedURLResult struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Storage keeps ledger exports in object storage
type Storage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*UploadResult, error)
	GetURL(key string) string
	GetPresignedDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (*PresignedURLResult, error)
}

// GenerateExportKey builds the object key for a transaction export covering
// [from, to]. Zero bounds are written as "start" and "now".
//
// Format: {prefix}/{generated_date}/{from}_{to}_{unique_id}.csv
func GenerateExportKey(prefix string, from, to, generatedAt time.Time) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "exports"
	}
	uniqueID := uuid.New().String()[:8]

	return path.Join(prefix,
		generatedAt.UTC().Format(exportDateLayout),
		fmt.Sprintf("%s_%s_%s.csv", boundLabel(from, "start"), boundLabel(to, "now"), uniqueID),
	)
}

func boundLabel(t time.Time, fallback string) string {
	if t.IsZero() {
		return fallback
	}
	return t.UTC().Format(exportDateLayout)
}
