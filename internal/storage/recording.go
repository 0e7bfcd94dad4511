package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"talentbridge-backend/internal/domain"
)

// RecordingArchive writes recording manifests to object storage. One manifest
// is written per recording window when the recording stops.
type RecordingArchive struct {
	client *minio.Client
	bucket string
}

// NewRecordingArchive creates a recording archive backed by a MinIO bucket,
// creating the bucket if it does not exist
func NewRecordingArchive(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*RecordingArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &RecordingArchive{client: client, bucket: bucket}, nil
}

// ArchiveManifest uploads a recording manifest as a JSON object keyed by call
// ID and recording start time
func (a *RecordingArchive) ArchiveManifest(ctx context.Context, m *domain.RecordingManifest) error {
	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	objectName := fmt.Sprintf("calls/%s/manifest.json", m.CallID)
	if m.StartedAt != nil {
		objectName = fmt.Sprintf("calls/%s/%d-manifest.json", m.CallID, m.StartedAt.Unix())
	}

	_, err = a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(encoded), int64(len(encoded)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}

	return nil
}
