package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	zerr "github.com/wozorio/regclean/errors"
	"github.com/wozorio/regclean/pkg/inventory"
	"github.com/wozorio/regclean/pkg/log"
	"github.com/wozorio/regclean/pkg/registry"
	"github.com/wozorio/regclean/pkg/retention"
)

type Options struct {
	// Registry name for the summary, ex: myregistry.azurecr.io.
	Registry      string
	ResourceGroup string
	DryRun        bool
	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
}

// Failure itemizes one failed deletion in the summary.
type Failure struct {
	Repository string `json:"repository"`
	Digest     string `json:"digest"`
	Reason     string `json:"reason"`
}

// Summary is the single source of truth for the run's outcome.
type Summary struct {
	RunID         string    `json:"runId"`
	Registry      string    `json:"registry"`
	ResourceGroup string    `json:"resourceGroup,omitempty"`
	DryRun        bool      `json:"dryRun"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Dangling      int       `json:"dangling"`
	Expired       int       `json:"expired"`
	Attempted     int       `json:"attempted"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	Skipped       int       `json:"skipped"`
	// BytesReclaimed sums manifest sizes of successful deletions; actual
	// storage released depends on layer sharing.
	BytesReclaimed uint64    `json:"bytesReclaimed"`
	FailedRepos    []string  `json:"failedRepos,omitempty"`
	Failures       []Failure `json:"failures,omitempty"`
	Results        []Result  `json:"results"`
}

// Clean reports whether the run completed without any failure.
func (s Summary) Clean() bool {
	return s.Failed == 0 && len(s.FailedRepos) == 0
}

// GarbageCollector wires the fetch, evaluate and execute stages into a
// single run.
type GarbageCollector struct {
	client registry.Client
	policy retention.Policy
	opts   Options
	log    log.Logger
	audit  *log.Logger
}

func NewGarbageCollector(client registry.Client, policy retention.Policy, opts Options, logger log.Logger,
	audit *log.Logger,
) GarbageCollector {
	return GarbageCollector{
		client: client,
		policy: policy,
		opts:   opts,
		log:    logger,
		audit:  audit,
	}
}

// Run performs one collection pass. All possible deletions are
// attempted even when some fail; a non-nil error alongside a populated
// summary means the run finished but not cleanly.
func (gc GarbageCollector) Run(ctx context.Context) (Summary, error) {
	runID := uuid.New().String()
	logger := log.Logger{Logger: gc.log.With().Str("run", runID).Logger()}

	summary := Summary{
		RunID:         runID,
		Registry:      gc.opts.Registry,
		ResourceGroup: gc.opts.ResourceGroup,
		DryRun:        gc.opts.DryRun,
		StartedAt:     time.Now().UTC(),
	}

	logger.Info().Str("registry", gc.opts.Registry).Bool("dry-run", gc.opts.DryRun).
		Dur("maxAge", gc.policy.MaxAge).Bool("cleanupAll", gc.policy.CleanupAll).
		Msg("starting cleanup run")

	fetcher := inventory.NewFetcher(gc.client, gc.policy, inventory.Options{
		Workers:    gc.opts.Workers,
		MaxRetries: gc.opts.MaxRetries,
		RetryDelay: gc.opts.RetryDelay,
	}, logger)

	fetched, err := fetcher.Fetch(ctx)
	if err != nil {
		return summary, err
	}

	summary.FailedRepos = fetched.FailedRepos

	excluded := retention.ResolveExclusions(ctx, gc.client, gc.policy.DeployedImages, logger)

	now := time.Now().UTC()

	for _, pinned := range retention.PinnedButStale(fetched.Manifests, excluded, gc.policy, now) {
		logger.Info().Str("repository", pinned.Repository).Str("digest", pinned.Digest.String()).
			Strs("tags", pinned.Tags).Msg("image is old enough to delete but in use, keeping it")
	}

	plan := retention.Evaluate(fetched.Manifests, excluded, gc.policy, now, logger)

	summary.Dangling = plan.CountByReason(retention.ReasonDangling)
	summary.Expired = plan.CountByReason(retention.ReasonExpired)

	if len(plan) == 0 {
		logger.Info().Msg("no obsolete images found for deletion")

		summary.FinishedAt = time.Now().UTC()

		return summary, gc.completionError(summary)
	}

	logger.Warn().Str("dangling", humanize.Comma(int64(summary.Dangling))).
		Str("expired", humanize.Comma(int64(summary.Expired))).
		Str("estimatedSize", humanize.Bytes(uint64(plan.TotalSize()))).
		Msg("images selected for deletion")

	executor := NewExecutor(gc.client, ExecutorOptions{
		DryRun:     gc.opts.DryRun,
		Workers:    gc.opts.Workers,
		MaxRetries: gc.opts.MaxRetries,
		RetryDelay: gc.opts.RetryDelay,
	}, logger, gc.audit)

	summary.Results = executor.Execute(ctx, plan)

	// skipped items were never attempted against the registry
	for _, result := range summary.Results {
		switch result.Status {
		case StatusSuccess:
			summary.Attempted++
			summary.Succeeded++
			summary.BytesReclaimed += uint64(result.Item.Size)
		case StatusFailed:
			summary.Attempted++
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{
				Repository: result.Item.Repository,
				Digest:     result.Item.Digest.String(),
				Reason:     result.Outcome,
			})
		case StatusSkipped:
			summary.Skipped++
		}
	}

	summary.FinishedAt = time.Now().UTC()

	logger.Info().Int("attempted", summary.Attempted).Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).Int("skipped", summary.Skipped).
		Str("reclaimed", humanize.Bytes(summary.BytesReclaimed)).
		Msg("cleanup run finished")

	return summary, gc.completionError(summary)
}

func (gc GarbageCollector) completionError(summary Summary) error {
	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d deletions failed", zerr.ErrRunIncomplete, summary.Failed, summary.Attempted)
	}

	if len(summary.FailedRepos) > 0 {
		return fmt.Errorf("%w: %d repositories could not be listed", zerr.ErrRunIncomplete, len(summary.FailedRepos))
	}

	return nil
}
