package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	zerr "github.com/wozorio/regclean/errors"
	"github.com/wozorio/regclean/pkg/common"
	"github.com/wozorio/regclean/pkg/log"
	"github.com/wozorio/regclean/pkg/registry"
	"github.com/wozorio/regclean/pkg/retention"
)

type Options struct {
	// Workers bounds concurrent per-repository listing calls.
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// Fetcher enumerates repositories and their manifests into a snapshot
// the evaluator can work on.
type Fetcher struct {
	client registry.Client
	policy retention.Policy
	opts   Options
	log    log.Logger
}

// Result is a fetched inventory snapshot. FailedRepos lists the
// repositories whose listing failed fatally; their manifests are
// missing from the snapshot but the rest of the run proceeds.
type Result struct {
	Manifests   []registry.Manifest
	FailedRepos []string
}

func NewFetcher(client registry.Client, policy retention.Policy, opts Options, logger log.Logger) *Fetcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}

	return &Fetcher{client: client, policy: policy, opts: opts, log: logger}
}

// Fetch lists every non-excluded repository and its manifests. Listing
// calls are retried with bounded exponential backoff on transient
// failures. An authorization failure aborts the whole fetch; any other
// error abandons only the repository it happened in. The snapshot is
// merged deterministically: repositories in name order, manifests in
// digest order within each repository.
func (f *Fetcher) Fetch(ctx context.Context) (Result, error) {
	repos, err := f.listRepositories(ctx)
	if err != nil {
		return Result{}, err
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failed   []string
		byRepo   = make(map[string][]registry.Manifest, len(repos))
		jobs     = make(chan string)
		abortCtx, cancel = context.WithCancel(ctx)
	)

	defer cancel()

	var authErr error

	for range f.opts.Workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for repo := range jobs {
				manifests, err := f.listManifests(abortCtx, repo)

				mu.Lock()
				switch {
				case err == nil:
					byRepo[repo] = manifests
				case errors.Is(err, zerr.ErrUnauthorizedAccess):
					if authErr == nil {
						authErr = err
					}

					cancel()
				default:
					f.log.Error().Err(err).Str("repository", repo).Msg("abandoning repository")

					failed = append(failed, repo)
				}
				mu.Unlock()
			}
		}()
	}

	for _, repo := range repos {
		if common.IsContextDone(abortCtx) {
			break
		}

		jobs <- repo
	}

	close(jobs)
	wg.Wait()

	if authErr != nil {
		return Result{}, authErr
	}

	manifests := make([]registry.Manifest, 0)

	sort.Strings(repos)

	for _, repo := range repos {
		repoManifests := byRepo[repo]

		sort.Slice(repoManifests, func(i, j int) bool {
			return repoManifests[i].Digest.String() < repoManifests[j].Digest.String()
		})

		manifests = append(manifests, repoManifests...)
	}

	sort.Strings(failed)

	return Result{Manifests: manifests, FailedRepos: failed}, nil
}

func (f *Fetcher) listRepositories(ctx context.Context) ([]string, error) {
	var repos []string

	err := common.RetryWithContext(ctx, func(attempt int, retryIn time.Duration) error {
		listed, err := f.client.ListRepositories(ctx)
		if err != nil {
			if isTransient(err) && attempt < f.opts.MaxRetries {
				f.log.Warn().Err(err).Int("attempt", attempt).Dur("retryIn", retryIn).
					Msg("failed to list repositories, retrying")
			}

			return err
		}

		repos = listed

		return nil
	}, isTransient, f.opts.MaxRetries, f.opts.RetryDelay)
	if err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(repos))

	for _, repo := range repos {
		if f.policy.IsRepoExcluded(repo) {
			f.log.Info().Str("repository", repo).Msg("skipping exception repository")

			continue
		}

		kept = append(kept, repo)
	}

	return kept, nil
}

func (f *Fetcher) listManifests(ctx context.Context, repo string) ([]registry.Manifest, error) {
	var manifests []registry.Manifest

	err := common.RetryWithContext(ctx, func(attempt int, retryIn time.Duration) error {
		f.log.Debug().Str("repository", repo).Int("attempt", attempt).Msg("checking repository")

		listed, err := f.client.ListManifests(ctx, repo)
		if err != nil {
			if isTransient(err) && attempt < f.opts.MaxRetries {
				f.log.Warn().Err(err).Str("repository", repo).Int("attempt", attempt).Dur("retryIn", retryIn).
					Msg("failed to list manifests, retrying")
			}

			return err
		}

		manifests = listed

		return nil
	}, isTransient, f.opts.MaxRetries, f.opts.RetryDelay)
	if err != nil {
		return nil, err
	}

	return manifests, nil
}

// only transient transport failures are worth another attempt.
func isTransient(err error) bool {
	return errors.Is(err, zerr.ErrRegistryUnavailable)
}
