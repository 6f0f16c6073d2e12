// Package archive stores monthly compliance reports as JSON objects in
// Google Cloud Storage.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/bookkeeper/internal/compliance"
)

// ReportArchive provides an interface for report storage.
// This interface enables mocking and testing of archive functionality.
type ReportArchive interface {
	// PutReport stores a report and returns its gs:// URI.
	PutReport(ctx context.Context, report *compliance.Report) (string, error)

	// FetchReport loads a report previously stored under uri.
	FetchReport(ctx context.Context, uri string) (*compliance.Report, error)
}

// GCSArchive is the concrete implementation of ReportArchive that
// interacts with Google Cloud Storage.
type GCSArchive struct {
	client *storage.Client
	bucket string
}

// NewGCSArchive creates a storage client. It assumes Application Default
// Credentials are configured.
func NewGCSArchive(ctx context.Context, bucket string) (*GCSArchive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSArchive: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSArchive: create storage client: %w", err)
	}
	return &GCSArchive{client: client, bucket: bucket}, nil
}

// Close closes the storage client.
func (a *GCSArchive) Close() error {
	return a.client.Close()
}

// PutReport writes report to reports/<user>/<YYYY-MM>.json, replacing any
// earlier version of the same month.
func (a *GCSArchive) PutReport(ctx context.Context, report *compliance.Report) (string, error) {
	data, err := EncodeReport(report)
	if err != nil {
		return "", fmt.Errorf("PutReport: %w", err)
	}
	name := ObjectName(report.UserID, report.Month)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{
		"user_id": report.UserID,
		"month":   report.Month,
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("PutReport: write %s: %w", name, err)
	}
	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("PutReport: finalize %s: %w", name, err)
	}
	return "gs://" + a.bucket + "/" + name, nil
}

// FetchReport downloads and decodes the report at uri.
func (a *GCSArchive) FetchReport(ctx context.Context, uri string) (*compliance.Report, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, fmt.Errorf("FetchReport: %w", err)
	}

	rc, err := a.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchReport: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchReport: reading bytes: %w", err)
	}
	return DecodeReport(data)
}

// ObjectName is the object path of a user's report for month ("YYYY-MM").
func ObjectName(userID, month string) string {
	return path.Join("reports", userID, month+".json")
}

// ParseGCSURI splits gs://bucket/path/to/object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// EncodeReport renders a report as indented JSON.
func EncodeReport(report *compliance.Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return data, nil
}

// DecodeReport parses a report written by EncodeReport.
func DecodeReport(data []byte) (*compliance.Report, error) {
	var r compliance.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}
