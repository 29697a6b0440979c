package cli

import (
	"bytes"
	"errors"
	"testing"
	"time"

	godigest "github.com/opencontainers/go-digest"
	. "github.com/smartystreets/goconvey/convey"

	zerr "github.com/wozorio/regclean/errors"
	"github.com/wozorio/regclean/pkg/gc"
	"github.com/wozorio/regclean/pkg/retention"
)

func testSummary() gc.Summary {
	digest := godigest.Digest("sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	return gc.Summary{
		RunID:          "run-1",
		Registry:       "registry.test",
		Dangling:       1,
		Attempted:      1,
		Succeeded:      1,
		BytesReclaimed: 2048,
		Results: []gc.Result{
			{
				Item: retention.PlanItem{
					Repository: "project/app",
					Digest:     digest,
					Reason:     retention.ReasonDangling,
					Age:        40 * 24 * time.Hour,
					Size:       2048,
				},
				Status:  gc.StatusSuccess,
				Outcome: "deleted",
			},
		},
	}
}

func TestWriteSummary(t *testing.T) {
	Convey("writeSummary", t, func() {
		Convey("text output tables the results and totals them", func() {
			var buf bytes.Buffer

			So(writeSummary(&buf, testSummary(), "text"), ShouldBeNil)

			output := buf.String()
			So(output, ShouldContainSubstring, "project/app")
			So(output, ShouldContainSubstring, "aaaaaaaaaaaa")
			So(output, ShouldContainSubstring, "dangling")
			So(output, ShouldContainSubstring, "40d")
			So(output, ShouldContainSubstring, "deleted: 1 dangling")
		})

		Convey("dry-run text output says so", func() {
			var buf bytes.Buffer

			summary := testSummary()
			summary.DryRun = true

			So(writeSummary(&buf, summary, ""), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, "would delete")
		})

		Convey("failures and skips show up in text output", func() {
			var buf bytes.Buffer

			summary := testSummary()
			summary.Skipped = 2
			summary.FailedRepos = []string{"bad"}
			summary.Failures = []gc.Failure{
				{Repository: "project/app", Digest: "sha256:beef", Reason: "registry exploded"},
			}

			So(writeSummary(&buf, summary, "text"), ShouldBeNil)

			output := buf.String()
			So(output, ShouldContainSubstring, "skipped 2 manifests")
			So(output, ShouldContainSubstring, "failed to list repository bad")
			So(output, ShouldContainSubstring, "registry exploded")
		})

		Convey("json output is machine readable", func() {
			var buf bytes.Buffer

			So(writeSummary(&buf, testSummary(), "json"), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, `"runId": "run-1"`)
			So(buf.String(), ShouldContainSubstring, `"attempted": 1`)
		})

		Convey("yaml output is accepted", func() {
			var buf bytes.Buffer

			So(writeSummary(&buf, testSummary(), "yaml"), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, "registry.test")
		})

		Convey("unknown formats are rejected", func() {
			var buf bytes.Buffer

			err := writeSummary(&buf, testSummary(), "xml")
			So(errors.Is(err, zerr.ErrInvalidOutputFormat), ShouldBeTrue)
		})
	})
}

func TestShortDigest(t *testing.T) {
	Convey("shortDigest trims the algorithm and truncates", t, func() {
		So(shortDigest("sha256:aaaaaaaaaaaaaaaabbbb"), ShouldEqual, "aaaaaaaaaaaa")
		So(shortDigest("abc"), ShouldEqual, "abc")
	})
}

func TestFormatAge(t *testing.T) {
	Convey("formatAge reports whole days", t, func() {
		So(formatAge(40*24*time.Hour), ShouldEqual, "40d")
		So(formatAge(12*time.Hour), ShouldEqual, "0d")
	})
}
