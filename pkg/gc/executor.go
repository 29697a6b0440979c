package gc

import (
	"context"
	"errors"
	"sync"
	"time"

	zerr "github.com/wozorio/regclean/errors"
	"github.com/wozorio/regclean/pkg/common"
	"github.com/wozorio/regclean/pkg/log"
	"github.com/wozorio/regclean/pkg/registry"
	"github.com/wozorio/regclean/pkg/retention"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

const outcomeWouldDelete = "would delete"

// Result is the outcome of one plan item. Execute returns exactly one
// Result per planned item, in plan order.
type Result struct {
	Item    retention.PlanItem `json:"item"`
	Status  Status             `json:"status"`
	Outcome string             `json:"outcome,omitempty"`
}

type ExecutorOptions struct {
	DryRun bool
	// Workers bounds concurrent deletions; ordering is only guaranteed
	// within a single digest (untag before manifest delete).
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// Executor applies a deletion plan against the registry. Item failures
// are isolated: one failed deletion never aborts the batch.
type Executor struct {
	client registry.Client
	opts   ExecutorOptions
	log    log.Logger
	audit  *log.Logger
}

func NewExecutor(client registry.Client, opts ExecutorOptions, logger log.Logger, audit *log.Logger) *Executor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}

	return &Executor{client: client, opts: opts, log: logger, audit: audit}
}

// Execute consumes the plan. In dry-run mode no mutating call is issued
// and every item reports success with a would-delete outcome. On
// context expiry the items not yet attempted are reported as skipped.
func (e *Executor) Execute(ctx context.Context, plan retention.Plan) []Result {
	results := make([]Result, len(plan))

	if e.opts.DryRun {
		for idx, item := range plan {
			e.logDeletion(item, StatusSuccess, outcomeWouldDelete)

			results[idx] = Result{Item: item, Status: StatusSuccess, Outcome: outcomeWouldDelete}
		}

		return results
	}

	var waitGroup sync.WaitGroup

	jobs := make(chan int)

	for range e.opts.Workers {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			for idx := range jobs {
				results[idx] = e.deleteItem(ctx, plan[idx])
			}
		}()
	}

	for idx := range plan {
		jobs <- idx
	}

	close(jobs)
	waitGroup.Wait()

	return results
}

func (e *Executor) deleteItem(ctx context.Context, item retention.PlanItem) Result {
	if common.IsContextDone(ctx) {
		e.logDeletion(item, StatusSkipped, "run deadline exceeded")

		return Result{Item: item, Status: StatusSkipped, Outcome: "run deadline exceeded"}
	}

	e.log.Warn().Str("repository", item.Repository).Str("digest", item.Digest.String()).
		Strs("tags", item.Tags).Str("reason", string(item.Reason)).Dur("age", item.Age).
		Msg("deleting manifest")

	err := e.deleteManifest(ctx, item)

	// some registries refuse to delete a manifest while tags still
	// reference it; untag and try once more
	if err != nil && len(item.Tags) > 0 && errors.Is(err, zerr.ErrRegistryFatal) {
		e.untagAll(ctx, item)

		err = e.deleteManifest(ctx, item)
	}

	if err != nil {
		e.logDeletion(item, StatusFailed, err.Error())

		return Result{Item: item, Status: StatusFailed, Outcome: err.Error()}
	}

	e.logDeletion(item, StatusSuccess, "deleted")

	return Result{Item: item, Status: StatusSuccess, Outcome: "deleted"}
}

func (e *Executor) deleteManifest(ctx context.Context, item retention.PlanItem) error {
	err := common.RetryWithContext(ctx, func(attempt int, retryIn time.Duration) error {
		err := e.client.DeleteManifest(ctx, item.Repository, item.Digest)
		if err != nil && errors.Is(err, zerr.ErrRegistryUnavailable) && attempt < e.opts.MaxRetries {
			e.log.Warn().Err(err).Str("repository", item.Repository).Str("digest", item.Digest.String()).
				Int("attempt", attempt).Dur("retryIn", retryIn).Msg("failed to delete manifest, retrying")
		}

		return err
	}, func(err error) bool {
		return errors.Is(err, zerr.ErrRegistryUnavailable)
	}, e.opts.MaxRetries, e.opts.RetryDelay)

	// already gone, possibly raced by another cleanup run
	if errors.Is(err, zerr.ErrManifestNotFound) {
		e.log.Info().Str("repository", item.Repository).Str("digest", item.Digest.String()).
			Msg("manifest already deleted")

		return nil
	}

	return err
}

func (e *Executor) untagAll(ctx context.Context, item retention.PlanItem) {
	for _, tag := range item.Tags {
		err := e.client.DeleteTag(ctx, item.Repository, tag)
		if err != nil && !errors.Is(err, zerr.ErrTagNotFound) {
			e.log.Warn().Err(err).Str("repository", item.Repository).Str("tag", tag).Msg("failed to delete tag")
		}
	}
}

func (e *Executor) logDeletion(item retention.PlanItem, status Status, outcome string) {
	if e.audit == nil {
		return
	}

	e.audit.Info().Str("module", "gc").
		Bool("dry-run", e.opts.DryRun).
		Str("repository", item.Repository).
		Str("digest", item.Digest.String()).
		Strs("tags", item.Tags).
		Str("reason", string(item.Reason)).
		Str("status", string(status)).
		Str("outcome", outcome).Msg("applied deletion")
}
