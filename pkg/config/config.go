package config

import (
	"fmt"
	"net/url"
	"time"

	zerr "github.com/wozorio/regclean/errors"
)

var (
	Commit     string //nolint: gochecknoglobals
	BinaryType string //nolint: gochecknoglobals
	GoVersion  string //nolint: gochecknoglobals
)

// output formats accepted by the CLI and the config file.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
	defaultWorkers    = 4
	defaultLogLevel   = "info"
)

type RegistryConfig struct {
	// URL of the registry, scheme included, ex: https://myregistry.azurecr.io
	URL      string
	Username string
	Password string
	// ResourceGroup the registry belongs to, recorded in the run summary
	// for registries managed through a cloud resource group.
	ResourceGroup string
	TLSVerify     *bool
	CertDir       string
	MaxRetries    int
	RetryDelay    time.Duration
}

type PolicyConfig struct {
	// MaxAge is the age past which a tagged manifest becomes eligible
	// for deletion.
	MaxAge time.Duration
	// DeleteUntagged enables deleting manifests no tag points at.
	// Defaults to true.
	DeleteUntagged *bool
	// DeployedImages pins currently deployed references (repo:tag or
	// repo@digest); pinned digests are never deleted.
	DeployedImages []string
	// ExcludedRepos are glob patterns for repositories which are never
	// inspected, ex: helm-charts/**.
	ExcludedRepos []string
	// CleanupAll forces MaxAge to zero: everything not pinned goes.
	CleanupAll bool
}

type RunConfig struct {
	DryRun  bool
	Timeout time.Duration
	// Workers bounds concurrent repository listings and deletions.
	Workers int
	// Interval enables periodic runs when non-zero.
	Interval time.Duration
	Output   string
}

type LogConfig struct {
	Level  string
	Output string
	Audit  string
}

type Config struct {
	Registry RegistryConfig
	Policy   PolicyConfig
	Run      RunConfig
	Log      LogConfig
}

func New() *Config {
	return &Config{
		Registry: RegistryConfig{
			MaxRetries: defaultMaxRetries,
			RetryDelay: defaultRetryDelay,
		},
		Run: RunConfig{
			Workers: defaultWorkers,
			Output:  OutputText,
		},
		Log: LogConfig{Level: defaultLogLevel},
	}
}

func (c *Config) Validate() error {
	if c.Registry.URL == "" {
		return fmt.Errorf("%w: registry url is required", zerr.ErrBadConfig)
	}

	parsed, err := url.Parse(c.Registry.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: scheme not provided (ex: https://)", zerr.ErrInvalidURL)
	}

	if c.Policy.MaxAge < 0 {
		return fmt.Errorf("%w: max age must not be negative", zerr.ErrBadConfig)
	}

	if c.Policy.MaxAge == 0 && !c.Policy.CleanupAll && !c.DeleteUntagged() {
		return fmt.Errorf("%w: nothing to do, set a max age, cleanupAll or deleteUntagged", zerr.ErrBadConfig)
	}

	if c.Run.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", zerr.ErrBadConfig)
	}

	switch c.Run.Output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("%w: %q", zerr.ErrInvalidOutputFormat, c.Run.Output)
	}

	return nil
}

// DeleteUntagged resolves the tri-state flag, defaulting to true.
func (c *Config) DeleteUntagged() bool {
	if c.Policy.DeleteUntagged != nil {
		return *c.Policy.DeleteUntagged
	}

	return true
}

// TLSVerify resolves the tri-state flag, defaulting to true.
func (c *Config) TLSVerify() bool {
	if c.Registry.TLSVerify != nil {
		return *c.Registry.TLSVerify
	}

	return true
}

// MaxAge returns the effective age threshold, zero when cleanupAll is
// set.
func (c *Config) MaxAge() time.Duration {
	if c.Policy.CleanupAll {
		return 0
	}

	return c.Policy.MaxAge
}
