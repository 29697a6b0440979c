package errors

import "errors"

var (
	ErrBadConfig           = errors.New("config: invalid config")
	ErrUnauthorizedAccess  = errors.New("registry: unauthorized access")
	ErrRepoNotFound        = errors.New("repository: not found")
	ErrManifestNotFound    = errors.New("manifest: not found")
	ErrTagNotFound         = errors.New("tag: not found")
	ErrInvalidReference    = errors.New("reference: invalid format")
	ErrInvalidURL          = errors.New("url: invalid format")
	ErrInvalidOutputFormat = errors.New("cli: invalid output format")
	ErrRegistryUnavailable = errors.New("registry: temporarily unavailable")
	ErrRegistryFatal       = errors.New("registry: request failed")
	ErrRunIncomplete       = errors.New("run: one or more deletions failed")
	ErrTimeout             = errors.New("run: deadline exceeded")
)
