package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"time"

	godigest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/regclient/regclient"
	"github.com/regclient/regclient/config"
	"github.com/regclient/regclient/scheme"
	"github.com/regclient/regclient/scheme/reg"
	"github.com/regclient/regclient/types/errs"
	"github.com/regclient/regclient/types/manifest"
	"github.com/regclient/regclient/types/ref"

	zerr "github.com/wozorio/regclean/errors"
	"github.com/wozorio/regclean/pkg/log"
)

type RemoteOptions struct {
	URL        string
	Username   string
	Password   string
	TLSVerify  bool
	CertDir    string
	MaxRetries int
	RetryDelay time.Duration
}

// Remote implements Client against any registry speaking the OCI
// distribution API.
type Remote struct {
	client *regclient.RegClient
	host   string
	log    log.Logger
}

func NewRemote(opts RemoteOptions, logger log.Logger) (*Remote, error) {
	parsed, err := url.Parse(opts.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", zerr.ErrInvalidURL, opts.URL)
	}

	hostConfig := config.Host{}

	host := config.HostNew()
	if host != nil {
		hostConfig = *host
	}

	hostConfig.Name = parsed.Host
	hostConfig.Hostname = parsed.Host
	hostConfig.RepoAuth = true
	hostConfig.User = opts.Username
	hostConfig.Pass = opts.Password

	if parsed.Scheme == "http" {
		hostConfig.TLS = config.TLSDisabled
	} else if !opts.TLSVerify {
		hostConfig.TLS = config.TLSInsecure
	}

	regOpts := []reg.Opts{}

	if opts.CertDir != "" {
		regOpts = append(regOpts, reg.WithCertDirs([]string{opts.CertDir}))
	}

	if opts.MaxRetries > 0 {
		regOpts = append(regOpts, reg.WithRetryLimit(opts.MaxRetries))
	}

	if opts.RetryDelay > 0 {
		regOpts = append(regOpts, reg.WithDelay(opts.RetryDelay, opts.RetryDelay))
	}

	client := regclient.New(
		regclient.WithDockerCerts(),
		regclient.WithDockerCreds(),
		regclient.WithRegOpts(regOpts...),
		regclient.WithConfigHost(hostConfig),
	)

	return &Remote{client: client, host: parsed.Host, log: logger}, nil
}

func (r *Remote) ListRepositories(ctx context.Context) ([]string, error) {
	repositories := []string{}

	last := ""

	for {
		repoOpts := []scheme.RepoOpts{}

		if last != "" {
			repoOpts = append(repoOpts, scheme.WithRepoLast(last))
		}

		clientRepoList, err := r.client.RepoList(ctx, r.host, repoOpts...)
		if err != nil {
			return repositories, r.mapError(err, zerr.ErrRepoNotFound)
		}

		repoList, err := clientRepoList.GetRepos()
		if err != nil {
			return repositories, r.mapError(err, zerr.ErrRepoNotFound)
		}

		if len(repoList) == 0 || last == repoList[len(repoList)-1] {
			break
		}

		repositories = append(repositories, repoList...)

		last = repoList[len(repoList)-1]
	}

	sort.Strings(repositories)

	return repositories, nil
}

// ListManifests walks the repository's tag list and groups tags by
// digest. The plain distribution API cannot enumerate untagged
// manifests, so dangling entries only show up on registries whose
// catalog includes them; richer Client implementations may do better.
func (r *Remote) ListManifests(ctx context.Context, repo string) ([]Manifest, error) {
	tags, err := r.listTags(ctx, repo)
	if err != nil {
		return nil, err
	}

	byDigest := make(map[godigest.Digest]*Manifest)

	for _, tag := range tags {
		imageRef, err := r.imageReference(repo, tag)
		if err != nil {
			return nil, err
		}

		man, err := r.client.ManifestGet(ctx, imageRef)
		if err != nil {
			return nil, r.mapError(err, zerr.ErrManifestNotFound)
		}

		desc := man.GetDescriptor()

		if entry, ok := byDigest[desc.Digest]; ok {
			entry.Tags = append(entry.Tags, tag)

			continue
		}

		lastUpdated, err := r.lastUpdated(ctx, imageRef, man)
		if err != nil {
			r.log.Warn().Err(err).Str("repository", repo).Str("tag", tag).
				Msg("failed to read image config, last-updated unknown")
		}

		byDigest[desc.Digest] = &Manifest{
			Repository:  repo,
			Digest:      desc.Digest,
			MediaType:   desc.MediaType,
			Tags:        []string{tag},
			Size:        desc.Size,
			LastUpdated: lastUpdated,
		}
	}

	manifests := make([]Manifest, 0, len(byDigest))

	for _, entry := range byDigest {
		sort.Strings(entry.Tags)
		manifests = append(manifests, *entry)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].Digest.String() < manifests[j].Digest.String()
	})

	return manifests, nil
}

func (r *Remote) ResolveTag(ctx context.Context, repo, tag string) (godigest.Digest, error) {
	imageRef, err := r.imageReference(repo, tag)
	if err != nil {
		return "", err
	}

	man, err := r.client.ManifestHead(ctx, imageRef)
	if err != nil {
		return "", r.mapError(err, zerr.ErrTagNotFound)
	}

	return man.GetDescriptor().Digest, nil
}

func (r *Remote) DeleteManifest(ctx context.Context, repo string, digest godigest.Digest) error {
	imageRef, err := r.imageReference(repo, digest.String())
	if err != nil {
		return err
	}

	if err := r.client.ManifestDelete(ctx, imageRef); err != nil {
		return r.mapError(err, zerr.ErrManifestNotFound)
	}

	return nil
}

func (r *Remote) DeleteTag(ctx context.Context, repo, tag string) error {
	imageRef, err := r.imageReference(repo, tag)
	if err != nil {
		return err
	}

	if err := r.client.TagDelete(ctx, imageRef); err != nil {
		return r.mapError(err, zerr.ErrTagNotFound)
	}

	return nil
}

func (r *Remote) listTags(ctx context.Context, repo string) ([]string, error) {
	repoRef, err := ref.New(fmt.Sprintf("%s/%s", r.host, repo))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", zerr.ErrInvalidReference, r.host, repo)
	}

	tagList, err := r.client.TagList(ctx, repoRef)
	if err != nil {
		return nil, r.mapError(err, zerr.ErrRepoNotFound)
	}

	tags, err := tagList.GetTags()
	if err != nil {
		return nil, r.mapError(err, zerr.ErrRepoNotFound)
	}

	return tags, nil
}

func (r *Remote) imageReference(repo, reference string) (ref.Ref, error) {
	var imageRefPath string

	if digest, err := godigest.Parse(reference); err == nil {
		imageRefPath = fmt.Sprintf("%s/%s@%s", r.host, repo, digest.String())
	} else {
		imageRefPath = fmt.Sprintf("%s/%s:%s", r.host, repo, reference)
	}

	imageRef, err := ref.New(imageRefPath)
	if err != nil {
		return ref.Ref{}, fmt.Errorf("%w: %s", zerr.ErrInvalidReference, imageRefPath)
	}

	return imageRef, nil
}

// lastUpdated digs the creation timestamp out of the image config, with
// the last history entry as fallback. For an index the first listed
// child manifest is consulted. A zero time means unknown; the evaluator
// treats unknown as not expired.
func (r *Remote) lastUpdated(ctx context.Context, imageRef ref.Ref, man manifest.Manifest) (time.Time, error) {
	if indexer, ok := man.(manifest.Indexer); ok {
		children, err := indexer.GetManifestList()
		if err != nil || len(children) == 0 {
			return time.Time{}, err
		}

		childRef := imageRef
		childRef.Tag = ""
		childRef.Digest = children[0].Digest.String()

		childMan, err := r.client.ManifestGet(ctx, childRef)
		if err != nil {
			return time.Time{}, r.mapError(err, zerr.ErrManifestNotFound)
		}

		man = childMan
		imageRef = childRef
	}

	imager, ok := man.(manifest.Imager)
	if !ok {
		return time.Time{}, nil
	}

	configDesc, err := imager.GetConfig()
	if err != nil {
		return time.Time{}, err
	}

	configBlob, err := r.client.BlobGetOCIConfig(ctx, imageRef, configDesc)
	if err != nil {
		return time.Time{}, r.mapError(err, zerr.ErrManifestNotFound)
	}

	configBuf, err := configBlob.RawBody()
	if err != nil {
		return time.Time{}, err
	}

	var imageConfig ispec.Image

	if err := json.Unmarshal(configBuf, &imageConfig); err != nil {
		return time.Time{}, err
	}

	return imageLastUpdated(imageConfig), nil
}

// imageLastUpdated returns the image's Created timestamp, or if that is
// missing the timestamp of the last history entry.
func imageLastUpdated(imageInfo ispec.Image) time.Time {
	timeStamp := imageInfo.Created

	if timeStamp != nil && !timeStamp.IsZero() {
		return *timeStamp
	}

	if len(imageInfo.History) > 0 {
		timeStamp = imageInfo.History[len(imageInfo.History)-1].Created
	}

	if timeStamp == nil {
		timeStamp = &time.Time{}
	}

	return *timeStamp
}

// mapError translates regclient and transport errors into the sentinel
// taxonomy. notFound names the sentinel a 404 maps to at this call
// site.
func (r *Remote) mapError(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrHTTPUnauthorized):
		return fmt.Errorf("%w: %w", zerr.ErrUnauthorizedAccess, err)
	case errors.Is(err, errs.ErrNotFound):
		return fmt.Errorf("%w: %w", notFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", zerr.ErrTimeout, err)
	case isTransient(err):
		return fmt.Errorf("%w: %w", zerr.ErrRegistryUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", zerr.ErrRegistryFatal, err)
	}
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error

	return errors.As(err, &urlErr)
}
