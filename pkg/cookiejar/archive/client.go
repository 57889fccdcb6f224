// Copyright (C) 2026 Cookie Monster Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package archive exports completed cookies to cold storage for audit
// retention. It is optional: a nil *Client disables archival entirely
// (SPEC_FULL.md §4.3 "Archive").
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Client uploads one JSON object per archived cookie to a GCS bucket.
type Client struct {
	storageClient *storage.Client
	bucketName    string
	prefix        string
}

// NewClient opens a GCS client authenticated with the service-account key at
// saKeyPath. Pass an empty saKeyPath to use application-default credentials.
func NewClient(ctx context.Context, bucketName, prefix, saKeyPath string) (*Client, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); err != nil {
			return nil, fmt.Errorf("archive: service account key at %s: %w", saKeyPath, err)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: create GCS client: %w", err)
	}

	return &Client{storageClient: storageClient, bucketName: bucketName, prefix: prefix}, nil
}

// record is the on-disk shape of one archived cookie. Kept independent of
// the cookiejar package's Cookie type so archive has no import-cycle back
// into the jar.
type record struct {
	ID         string `json:"id"`
	ArchivedAt string `json:"archived_at"`
	Cookie     any    `json:"cookie"`
}

// ArchiveCookie uploads cookie (any JSON-marshalable representation of a
// completed object's enrichment log) to "<prefix>/<id>.json". Callers treat
// failures as best-effort and log-and-drop (SPEC_FULL.md §4.3).
func (c *Client) ArchiveCookie(ctx context.Context, id string, cookie any) error {
	rec := record{ID: id, ArchivedAt: time.Now().UTC().Format(time.RFC3339Nano), Cookie: cookie}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal %s: %w", id, err)
	}

	objectPath := id + ".json"
	if c.prefix != "" {
		objectPath = c.prefix + "/" + objectPath
	}

	obj := c.storageClient.Bucket(c.bucketName).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(encoded); err != nil {
		_ = writer.Close()
		return fmt.Errorf("archive: write %s: %w", objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("archive: close writer for %s: %w", objectPath, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}
