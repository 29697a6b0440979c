package retention_test

import (
	"context"
	"testing"
	"time"

	godigest "github.com/opencontainers/go-digest"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/mock"

	zerr "github.com/wozorio/regclean/errors"
	"github.com/wozorio/regclean/pkg/log"
	"github.com/wozorio/regclean/pkg/registry"
	"github.com/wozorio/regclean/pkg/registry/mocks"
	"github.com/wozorio/regclean/pkg/retention"
)

const (
	digestA = godigest.Digest("sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	digestB = godigest.Digest("sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	digestC = godigest.Digest("sha256:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")
)

func days(count int) time.Duration {
	return time.Duration(count) * 24 * time.Hour
}

func TestEvaluate(t *testing.T) {
	logger := log.NewLogger("error", "")
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	noExclusions := map[godigest.Digest]struct{}{}

	Convey("Evaluate applies the retention policy", t, func() {
		policy := retention.Policy{MaxAge: days(90), DeleteUntagged: true}

		Convey("dangling manifests are planned regardless of age", func() {
			inventory := []registry.Manifest{
				{Repository: "app", Digest: digestA, Tags: []string{}, LastUpdated: now.Add(-days(1))},
			}

			plan := retention.Evaluate(inventory, noExclusions, policy, now, logger)

			So(plan, ShouldHaveLength, 1)
			So(plan[0].Reason, ShouldEqual, retention.ReasonDangling)
		})

		Convey("dangling wins over expired for old untagged manifests", func() {
			inventory := []registry.Manifest{
				{Repository: "app", Digest: digestA, Tags: nil, LastUpdated: now.Add(-days(400))},
			}

			plan := retention.Evaluate(inventory, noExclusions, policy, now, logger)

			So(plan, ShouldHaveLength, 1)
			So(plan[0].Reason, ShouldEqual, retention.ReasonDangling)
		})

		Convey("with deleteUntagged off an old dangling manifest still expires", func() {
			inventory := []registry.Manifest{
				{Repository: "app", Digest: digestA, Tags: nil, LastUpdated: now.Add(-days(400))},
			}

			plan := retention.Evaluate(inventory, noExclusions, retention.Policy{MaxAge: days(90)}, now, logger)

			So(plan, ShouldHaveLength, 1)
			So(plan[0].Reason, ShouldEqual, retention.ReasonExpired)
		})

		Convey("with deleteUntagged off a young dangling manifest is kept", func() {
			inventory := []registry.Manifest{
				{Repository: "app", Digest: digestA, Tags: nil, LastUpdated: now.Add(-days(1))},
			}

			plan := retention.Evaluate(inventory, noExclusions, retention.Policy{MaxAge: days(90)}, now, logger)

			So(plan, ShouldBeEmpty)
		})

		Convey("manifests newer than max age never show up", func() {
			inventory := []registry.Manifest{
				{Repository: "app", Digest: digestA, Tags: []string{"v1"}, LastUpdated: now.Add(-days(89))},
			}

			plan := retention.Evaluate(inventory, noExclusions, policy, now, logger)

			So(plan, ShouldBeEmpty)
		})

		Convey("manifests with an unknown timestamp are kept", func() {
			inventory := []registry.Manifest{
				{Repository: "app", Digest: digestA, Tags: []string{"v1"}},
			}

			plan := retention.Evaluate(inventory, noExclusions, policy, now, logger)

			So(plan, ShouldBeEmpty)
		})

		Convey("cleanupAll expires every tagged manifest", func() {
			inventory := []registry.Manifest{
				{Repository: "app", Digest: digestA, Tags: []string{"v1"}, LastUpdated: now.Add(-time.Hour)},
				{Repository: "app", Digest: digestB, Tags: []string{"v2"}},
			}

			all := retention.Policy{CleanupAll: true, DeleteUntagged: true}
			plan := retention.Evaluate(inventory, noExclusions, all, now, logger)

			So(plan, ShouldHaveLength, 2)
			So(plan[0].Reason, ShouldEqual, retention.ReasonExpired)
			So(plan[1].Reason, ShouldEqual, retention.ReasonExpired)
		})

		Convey("an excluded digest is skipped even when referenced by other tags", func() {
			inventory := []registry.Manifest{
				{Repository: "app", Digest: digestA, Tags: []string{"pinned", "stale"}, LastUpdated: now.Add(-days(365))},
			}

			excluded := map[godigest.Digest]struct{}{digestA: {}}
			plan := retention.Evaluate(inventory, excluded, policy, now, logger)

			So(plan, ShouldBeEmpty)
		})

		Convey("repositories matching exclusion globs are never planned", func() {
			inventory := []registry.Manifest{
				{Repository: "helm-charts/app", Digest: digestA, Tags: nil},
			}

			excludedRepos := retention.Policy{MaxAge: days(90), DeleteUntagged: true, ExcludedRepos: []string{"helm-charts/**"}}
			plan := retention.Evaluate(inventory, noExclusions, excludedRepos, now, logger)

			So(plan, ShouldBeEmpty)
		})

		Convey("the plan is ordered by repository then digest", func() {
			inventory := []registry.Manifest{
				{Repository: "zzz", Digest: digestA, Tags: nil},
				{Repository: "app", Digest: digestC, Tags: nil},
				{Repository: "app", Digest: digestB, Tags: nil},
			}

			plan := retention.Evaluate(inventory, noExclusions, policy, now, logger)

			So(plan, ShouldHaveLength, 3)
			So(plan[0].Digest, ShouldEqual, digestB)
			So(plan[1].Digest, ShouldEqual, digestC)
			So(plan[2].Repository, ShouldEqual, "zzz")
		})

		Convey("evaluating twice yields an identical plan", func() {
			inventory := []registry.Manifest{
				{Repository: "app", Digest: digestA, Tags: nil, LastUpdated: now.Add(-days(40))},
				{Repository: "app", Digest: digestB, Tags: []string{"v1"}, LastUpdated: now.Add(-days(100))},
				{Repository: "svc", Digest: digestC, Tags: nil},
			}

			first := retention.Evaluate(inventory, noExclusions, policy, now, logger)
			second := retention.Evaluate(inventory, noExclusions, policy, now, logger)

			So(second, ShouldResemble, first)
		})
	})

	Convey("The documented scenario comes out as expected", t, func() {
		// A: dangling, 40d; B: v1, 100d; C: v2, 5d; maxAge 90d, repo:v1 pinned
		inventory := []registry.Manifest{
			{Repository: "repo", Digest: digestA, Tags: nil, LastUpdated: now.Add(-days(40))},
			{Repository: "repo", Digest: digestB, Tags: []string{"v1"}, LastUpdated: now.Add(-days(100))},
			{Repository: "repo", Digest: digestC, Tags: []string{"v2"}, LastUpdated: now.Add(-days(5))},
		}

		policy := retention.Policy{
			MaxAge:         days(90),
			DeleteUntagged: true,
			DeployedImages: []string{"repo:v1"},
		}

		client := &mocks.ClientMock{}
		client.On("ResolveTag", mock.Anything, "repo", "v1").Return(digestB, nil)

		excluded := retention.ResolveExclusions(context.Background(), client, policy.DeployedImages, logger)
		plan := retention.Evaluate(inventory, excluded, policy, now, logger)

		So(plan, ShouldHaveLength, 1)
		So(plan[0].Digest, ShouldEqual, digestA)
		So(plan[0].Reason, ShouldEqual, retention.ReasonDangling)

		stale := retention.PinnedButStale(inventory, excluded, policy, now)
		So(stale, ShouldHaveLength, 1)
		So(stale[0].Digest, ShouldEqual, digestB)
	})
}

func TestResolveExclusions(t *testing.T) {
	logger := log.NewLogger("error", "")

	Convey("ResolveExclusions normalizes pins to digests", t, func() {
		Convey("digest references are used as is", func() {
			client := &mocks.ClientMock{}

			excluded := retention.ResolveExclusions(context.Background(), client,
				[]string{"repo@" + digestA.String()}, logger)

			So(excluded, ShouldContainKey, digestA)
			client.AssertNotCalled(t, "ResolveTag")
		})

		Convey("tag references are resolved through the registry", func() {
			client := &mocks.ClientMock{}
			client.On("ResolveTag", mock.Anything, "app/api", "v1").Return(digestB, nil)

			excluded := retention.ResolveExclusions(context.Background(), client,
				[]string{"myregistry.azurecr.io/app/api:v1"}, logger)

			So(excluded, ShouldContainKey, digestB)
		})

		Convey("unresolvable pins are dropped, not escalated", func() {
			client := &mocks.ClientMock{}
			client.On("ResolveTag", mock.Anything, "gone", "v1").Return(godigest.Digest(""), zerr.ErrTagNotFound)

			excluded := retention.ResolveExclusions(context.Background(), client, []string{"gone:v1"}, logger)

			So(excluded, ShouldBeEmpty)
		})

		Convey("malformed pins are dropped with a warning", func() {
			client := &mocks.ClientMock{}

			excluded := retention.ResolveExclusions(context.Background(), client,
				[]string{"not a reference!!"}, logger)

			So(excluded, ShouldBeEmpty)
			client.AssertNotCalled(t, "ResolveTag")
		})
	})
}

func TestReferences(t *testing.T) {
	Convey("ValidateReferences rejects malformed references up front", t, func() {
		So(retention.ValidateReferences([]string{"repo:v1", "repo@" + digestA.String()}), ShouldBeNil)
		So(retention.ValidateReferences([]string{"not a reference!!"}), ShouldNotBeNil)
		So(retention.ValidateReferences(nil), ShouldBeNil)
	})

	Convey("ParseReference splits repo, tag and digest", t, func() {
		repo, tag, digest, err := retention.ParseReference("myregistry.azurecr.io/app/api:v2")
		So(err, ShouldBeNil)
		So(repo, ShouldEqual, "app/api")
		So(tag, ShouldEqual, "v2")
		So(digest, ShouldBeEmpty)

		repo, tag, digest, err = retention.ParseReference("app@" + digestC.String())
		So(err, ShouldBeNil)
		So(repo, ShouldEqual, "app")
		So(tag, ShouldBeEmpty)
		So(digest, ShouldEqual, digestC)
	})
}

func TestPolicyRepoExclusion(t *testing.T) {
	Convey("IsRepoExcluded matches globs", t, func() {
		policy := retention.Policy{ExcludedRepos: []string{"helm-charts/**", "e2e-tests/**", "busybox"}}

		So(policy.IsRepoExcluded("helm-charts/app"), ShouldBeTrue)
		So(policy.IsRepoExcluded("busybox"), ShouldBeTrue)
		So(policy.IsRepoExcluded("app/api"), ShouldBeFalse)
		So(retention.Policy{}.IsRepoExcluded("app/api"), ShouldBeFalse)
	})
}
