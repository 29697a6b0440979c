package mocks

import (
	"context"

	godigest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/mock"

	"github.com/wozorio/regclean/pkg/registry"
)

// ClientMock is a testify mock of registry.Client.
type ClientMock struct {
	mock.Mock
}

func (m *ClientMock) ListRepositories(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)

	repos, _ := args.Get(0).([]string)

	return repos, args.Error(1)
}

func (m *ClientMock) ListManifests(ctx context.Context, repo string) ([]registry.Manifest, error) {
	args := m.Called(ctx, repo)

	manifests, _ := args.Get(0).([]registry.Manifest)

	return manifests, args.Error(1)
}

func (m *ClientMock) ResolveTag(ctx context.Context, repo, tag string) (godigest.Digest, error) {
	args := m.Called(ctx, repo, tag)

	digest, _ := args.Get(0).(godigest.Digest)

	return digest, args.Error(1)
}

func (m *ClientMock) DeleteManifest(ctx context.Context, repo string, digest godigest.Digest) error {
	args := m.Called(ctx, repo, digest)

	return args.Error(0)
}

func (m *ClientMock) DeleteTag(ctx context.Context, repo, tag string) error {
	args := m.Called(ctx, repo, tag)

	return args.Error(0)
}
