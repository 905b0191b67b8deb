/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"cloud.google.com/go/storage"
	"github.com/chainguard-dev/clog"

	"chainguard.dev/checkmend/loop"
)

// Archiver persists finished trails to a GCS bucket so the audit record
// outlives the process.
type Archiver struct {
	bucket string
	client *storage.Client
}

// NewArchiver opens a storage client against the bucket using ambient
// credentials.
func NewArchiver(ctx context.Context, bucket string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Archiver{bucket: bucket, client: client}, nil
}

// Archive writes the trail as indented JSON and returns the object's gs://
// URL. Objects are named by repository, revision, and start time, so
// successive runs against the same revision never collide.
func (a *Archiver) Archive(ctx context.Context, owner, repo string, trail *loop.Trail) (string, error) {
	body, err := json.MarshalIndent(trail, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding trail: %w", err)
	}

	name := objectName(owner, repo, trail)
	w := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(body); err != nil {
		return "", fmt.Errorf("writing trail to gs://%s/%s: %w", a.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing trail object gs://%s/%s: %w", a.bucket, name, err)
	}

	url := "gs://" + a.bucket + "/" + name
	clog.FromContext(ctx).Infof("Archived trail to %s", url)
	return url, nil
}

// Close releases the underlying storage client.
func (a *Archiver) Close() error {
	return a.client.Close()
}

func objectName(owner, repo string, trail *loop.Trail) string {
	return path.Join(owner, repo, trail.Revision,
		trail.Started.UTC().Format("20060102T150405Z")+".json")
}
