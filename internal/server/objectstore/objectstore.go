// Package objectstore defines the object-store collaborator used for
// template bundles, build logs, and session snapshots, with an S3
// implementation and an in-memory one for tests and single-node use.
package objectstore

import "context"

// Object is stored content plus its metadata.
type Object struct {
	Body        []byte
	ContentType string
	Bytes       int64
}

// Store is keyed by entity-derived keys (see BundleKey and friends).
// Get returns (nil, nil) when the key is absent.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// BundleKey addresses a template version's built bundle.
func BundleKey(versionID string) string { return "bundles/" + versionID }

// BuildLogKey addresses a build's log output.
func BuildLogKey(buildID string) string { return "buildlogs/" + buildID }

// SnapshotKey addresses a session snapshot's content.
func SnapshotKey(snapshotID string) string { return "snapshots/" + snapshotID }
