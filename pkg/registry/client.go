package registry

import (
	"context"
	"time"

	godigest "github.com/opencontainers/go-digest"
)

// Manifest is a read-only snapshot of a registry manifest. The registry
// owns the data; the collector never mutates a snapshot.
type Manifest struct {
	Repository  string          `json:"repository"`
	Digest      godigest.Digest `json:"digest"`
	MediaType   string          `json:"mediaType"`
	Tags        []string        `json:"tags"`
	Size        int64           `json:"size"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// IsDangling returns true when no tag references the manifest.
func (m Manifest) IsDangling() bool {
	return len(m.Tags) == 0
}

// Client is the capability set the collector needs from a registry.
// Implementations map transport failures to the sentinel errors in the
// errors package so callers can tell retryable from fatal conditions.
type Client interface {
	ListRepositories(ctx context.Context) ([]string, error)
	ListManifests(ctx context.Context, repo string) ([]Manifest, error)
	ResolveTag(ctx context.Context, repo, tag string) (godigest.Digest, error)
	DeleteManifest(ctx context.Context, repo string, digest godigest.Digest) error
	DeleteTag(ctx context.Context, repo, tag string) error
}
