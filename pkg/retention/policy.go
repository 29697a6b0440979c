package retention

import (
	"fmt"
	"time"

	glob "github.com/bmatcuk/doublestar/v4"
	"github.com/google/go-containerregistry/pkg/name"
	godigest "github.com/opencontainers/go-digest"

	zerr "github.com/wozorio/regclean/errors"
)

// Reason records why a manifest was planned for deletion.
type Reason string

const (
	ReasonDangling Reason = "dangling"
	ReasonExpired  Reason = "expired"
)

// Policy is the retention policy for a single run. Immutable once
// constructed.
type Policy struct {
	// MaxAge is the age past which tagged manifests expire. Zero
	// disables the age rule unless CleanupAll is set.
	MaxAge time.Duration
	// CleanupAll expires every tagged manifest regardless of age.
	CleanupAll bool
	// DeleteUntagged marks manifests with no tags as dangling.
	DeleteUntagged bool
	// DeployedImages are pinned references, exempt from deletion.
	DeployedImages []string
	// ExcludedRepos are glob patterns for repositories never inspected.
	ExcludedRepos []string
}

// IsRepoExcluded reports whether repo matches any exclusion pattern.
// Patterns that fail to compile never match.
func (p Policy) IsRepoExcluded(repo string) bool {
	for _, pattern := range p.ExcludedRepos {
		matched, err := glob.Match(pattern, repo)
		if err == nil && matched {
			return true
		}
	}

	return false
}

// PlanItem is a single planned deletion.
type PlanItem struct {
	Repository string          `json:"repository"`
	Digest     godigest.Digest `json:"digest"`
	Tags       []string        `json:"tags,omitempty"`
	Size       int64           `json:"size"`
	Reason     Reason          `json:"reason"`
	Age        time.Duration   `json:"age"`
}

// Plan is the ordered deletion plan for a run, consumed exactly once by
// the executor.
type Plan []PlanItem

// TotalSize sums the manifest sizes of all planned items.
func (plan Plan) TotalSize() int64 {
	var total int64

	for _, item := range plan {
		total += item.Size
	}

	return total
}

// CountByReason returns how many planned items carry the given reason.
func (plan Plan) CountByReason(reason Reason) int {
	count := 0

	for _, item := range plan {
		if item.Reason == reason {
			count++
		}
	}

	return count
}

// ParseReference splits a pinned reference (repo:tag, repo@digest, with
// or without a registry host) into its repository path and either a tag
// or a digest.
func ParseReference(reference string) (repo, tag string, digest godigest.Digest, err error) {
	parsed, err := name.ParseReference(reference, name.WithDefaultRegistry(""))
	if err != nil {
		return "", "", "", fmt.Errorf("%w: %s", zerr.ErrInvalidReference, reference)
	}

	switch typed := parsed.(type) {
	case name.Tag:
		return typed.RepositoryStr(), typed.TagStr(), "", nil
	case name.Digest:
		parsedDigest, err := godigest.Parse(typed.DigestStr())
		if err != nil {
			return "", "", "", fmt.Errorf("%w: %s", zerr.ErrInvalidReference, reference)
		}

		return typed.RepositoryStr(), "", parsedDigest, nil
	default:
		return "", "", "", fmt.Errorf("%w: %s", zerr.ErrInvalidReference, reference)
	}
}

// ValidateReferences rejects malformed pinned references up front, so a
// typo in the deployed list aborts the run before anything is listed.
func ValidateReferences(references []string) error {
	for _, reference := range references {
		if _, _, _, err := ParseReference(reference); err != nil {
			return err
		}
	}

	return nil
}
