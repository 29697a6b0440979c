package retention

import (
	"context"
	"sort"
	"time"

	godigest "github.com/opencontainers/go-digest"

	"github.com/wozorio/regclean/pkg/log"
	"github.com/wozorio/regclean/pkg/registry"
)

const (
	decisionKeep   = "keep"
	decisionDelete = "delete"

	reasonPinned     = "pinned by deployed reference"
	reasonTooYoung   = "newer than max age"
	reasonAgeUnknown = "last-updated timestamp unknown"
)

// TagResolver resolves a tag to the digest it currently points at.
// registry.Client satisfies it.
type TagResolver interface {
	ResolveTag(ctx context.Context, repo, tag string) (godigest.Digest, error)
}

// ResolveExclusions normalizes pinned references to a digest set.
// Exclusion is digest-scoped: pinning one tag protects every tag
// sharing the digest. References that fail to parse or resolve are
// logged as warnings and dropped, never escalated; a bad pin must not
// widen the deletion set.
func ResolveExclusions(ctx context.Context, resolver TagResolver, references []string, logger log.Logger,
) map[godigest.Digest]struct{} {
	excluded := make(map[godigest.Digest]struct{}, len(references))

	for _, reference := range references {
		repo, tag, digest, err := ParseReference(reference)
		if err != nil {
			logger.Warn().Str("reference", reference).Msg("skipping malformed pinned reference")

			continue
		}

		if digest != "" {
			excluded[digest] = struct{}{}

			continue
		}

		resolved, err := resolver.ResolveTag(ctx, repo, tag)
		if err != nil {
			logger.Warn().Err(err).Str("reference", reference).Msg("failed to resolve pinned reference, skipping it")

			continue
		}

		excluded[resolved] = struct{}{}
	}

	return excluded
}

// Evaluate applies the policy to an inventory snapshot and produces the
// deletion plan. Pure: same inventory, exclusions, policy and clock
// yield the same plan, order included. Dangling takes precedence over
// age for manifests that are both untagged and old.
func Evaluate(inventory []registry.Manifest, excluded map[godigest.Digest]struct{}, policy Policy, now time.Time,
	logger log.Logger,
) Plan {
	plan := make(Plan, 0)

	for _, manifest := range inventory {
		if policy.IsRepoExcluded(manifest.Repository) {
			continue
		}

		age := age(manifest, now)

		if _, ok := excluded[manifest.Digest]; ok {
			logDecision(logger, manifest, age, decisionKeep, reasonPinned)

			continue
		}

		// dangling wins over expired; with untagged deletion off the
		// manifest still ages out like any other
		if manifest.IsDangling() && policy.DeleteUntagged {
			logDecision(logger, manifest, age, decisionDelete, string(ReasonDangling))

			plan = append(plan, planItem(manifest, ReasonDangling, age))

			continue
		}

		if !policy.CleanupAll && manifest.LastUpdated.IsZero() {
			logDecision(logger, manifest, age, decisionKeep, reasonAgeUnknown)

			continue
		}

		if policy.CleanupAll || (policy.MaxAge > 0 && age > policy.MaxAge) {
			logDecision(logger, manifest, age, decisionDelete, string(ReasonExpired))

			plan = append(plan, planItem(manifest, ReasonExpired, age))

			continue
		}

		logDecision(logger, manifest, age, decisionKeep, reasonTooYoung)
	}

	sort.Slice(plan, func(i, j int) bool {
		if plan[i].Repository != plan[j].Repository {
			return plan[i].Repository < plan[j].Repository
		}

		return plan[i].Digest.String() < plan[j].Digest.String()
	})

	return plan
}

// PinnedButStale lists manifests that are old enough to delete but kept
// because they are pinned, so operators can see what the pins cost.
func PinnedButStale(inventory []registry.Manifest, excluded map[godigest.Digest]struct{}, policy Policy,
	now time.Time,
) []registry.Manifest {
	stale := make([]registry.Manifest, 0)

	for _, manifest := range inventory {
		if _, ok := excluded[manifest.Digest]; !ok {
			continue
		}

		if policy.CleanupAll || (policy.MaxAge > 0 && !manifest.LastUpdated.IsZero() && age(manifest, now) > policy.MaxAge) {
			stale = append(stale, manifest)
		}
	}

	return stale
}

func age(manifest registry.Manifest, now time.Time) time.Duration {
	if manifest.LastUpdated.IsZero() {
		return 0
	}

	return now.Sub(manifest.LastUpdated)
}

func planItem(manifest registry.Manifest, reason Reason, age time.Duration) PlanItem {
	return PlanItem{
		Repository: manifest.Repository,
		Digest:     manifest.Digest,
		Tags:       manifest.Tags,
		Size:       manifest.Size,
		Reason:     reason,
		Age:        age,
	}
}

func logDecision(logger log.Logger, manifest registry.Manifest, age time.Duration, decision, reason string) {
	logger.Debug().Str("module", "retention").
		Str("repository", manifest.Repository).
		Str("digest", manifest.Digest.String()).
		Strs("tags", manifest.Tags).
		Dur("age", age).
		Str("decision", decision).
		Str("reason", reason).Msg("applied policy")
}
