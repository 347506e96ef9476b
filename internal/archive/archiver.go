// Package archive uploads a copy of each delivered message to
// S3-compatible object storage before the local record is deleted.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/sirupsen/logrus"
)

// MessageArchiver writes delivered messages to an object-storage bucket.
// Archiving is best-effort; a failed upload never blocks the delete.
type MessageArchiver struct {
	client *minio.Client
	bucket string
}

// NewFromEnv builds an archiver from ARCHIVE_* environment variables.
// It returns (nil, nil) when ARCHIVE_ENDPOINT is unset, meaning archiving
// is simply not configured.
func NewFromEnv() (*MessageArchiver, error) {
	endpoint := os.Getenv("ARCHIVE_ENDPOINT")
	if endpoint == "" {
		return nil, nil
	}

	bucket := os.Getenv("ARCHIVE_BUCKET")
	if bucket == "" {
		bucket = "sms-relay-archive"
	}

	accessKey := os.Getenv("ARCHIVE_ACCESS_KEY")
	secretKey := os.Getenv("ARCHIVE_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY are required when ARCHIVE_ENDPOINT is set")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ARCHIVE_ENDPOINT '%s': %w (expected format: https://hostname:port)", endpoint, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid ARCHIVE_ENDPOINT scheme '%s': must be http or https", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("invalid ARCHIVE_ENDPOINT '%s': missing hostname", endpoint)
	}

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client for %s: %w", u.Host, err)
	}

	logrus.WithFields(logrus.Fields{
		"endpoint": u.Host,
		"bucket":   bucket,
	}).Info("Delivered-message archiving enabled")

	return &MessageArchiver{
		client: client,
		bucket: bucket,
	}, nil
}

// Archive uploads one delivered message as a JSON object keyed by capture
// date and record id.
func (a *MessageArchiver) Archive(ctx context.Context, msg types.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message %d: %w", msg.ID, err)
	}

	objectName := fmt.Sprintf("messages/%s/%d.json", msg.CapturedAt.UTC().Format("2006-01-02"), msg.ID)

	_, err = a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to archive message %d: %w", msg.ID, err)
	}

	return nil
}
