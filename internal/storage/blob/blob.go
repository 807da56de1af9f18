// Package blob moves changeset payloads between local files and object
// storage addressed by the locations the service hands out.
package blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zeusync/hubsync/internal/core/hub"
)

// Store uploads and downloads whole files.
type Store interface {
	Upload(ctx context.Context, location, path string, progress hub.ProgressFunc) error
	Download(ctx context.Context, location, path string, progress hub.ProgressFunc) error
}

// Location is a parsed object address.
type Location struct {
	Bucket string
	Key    string
}

// ParseLocation accepts s3://bucket/key, http(s)://host/bucket/key and bare
// keys, which resolve against defaultBucket.
func ParseLocation(raw, defaultBucket string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("empty blob location")
	}
	if !strings.Contains(raw, "://") {
		if defaultBucket == "" {
			return Location{}, fmt.Errorf("blob location %q has no bucket", raw)
		}
		return Location{Bucket: defaultBucket, Key: strings.TrimPrefix(raw, "/")}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse blob location: %w", err)
	}
	path := strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "s3":
		if u.Host == "" || path == "" {
			return Location{}, fmt.Errorf("blob location %q needs bucket and key", raw)
		}
		return Location{Bucket: u.Host, Key: path}, nil
	case "http", "https":
		bucket, key, ok := strings.Cut(path, "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("blob location %q needs bucket and key", raw)
		}
		return Location{Bucket: bucket, Key: key}, nil
	default:
		return Location{}, fmt.Errorf("unsupported blob scheme %q", u.Scheme)
	}
}
