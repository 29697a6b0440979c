package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	zerr "github.com/wozorio/regclean/errors"
	"github.com/wozorio/regclean/pkg/config"
	"github.com/wozorio/regclean/pkg/gc"
)

const (
	spinnerDuration = 150 * time.Millisecond
	shortDigestLen  = 12
)

type spinnerState struct {
	spinner *spinner.Spinner
	enabled bool
}

func newSpinnerState(writer io.Writer, enabled bool) spinnerState {
	spin := spinner.New(spinner.CharSets[39], spinnerDuration, spinner.WithWriter(writer))
	spin.Prefix = "Cleaning up the registry... "

	return spinnerState{spinner: spin, enabled: enabled}
}

func (spin spinnerState) startSpinner() {
	if spin.enabled {
		spin.spinner.Start()
	}
}

func (spin spinnerState) stopSpinner() {
	if spin.enabled && spin.spinner.Active() {
		spin.spinner.Stop()
	}
}

func writeSummary(writer io.Writer, summary gc.Summary, format string) error {
	switch format {
	case config.OutputText, "":
		writeSummaryText(writer, summary)

		return nil
	case config.OutputJSON:
		json := jsoniter.ConfigCompatibleWithStandardLibrary

		buf, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}

		fmt.Fprintln(writer, string(buf))

		return nil
	case config.OutputYAML:
		buf, err := yaml.Marshal(summary)
		if err != nil {
			return err
		}

		fmt.Fprint(writer, string(buf))

		return nil
	default:
		return fmt.Errorf("%w: %q", zerr.ErrInvalidOutputFormat, format)
	}
}

func writeSummaryText(writer io.Writer, summary gc.Summary) {
	if len(summary.Results) > 0 {
		table := getSummaryTableWriter(writer)
		table.SetHeader([]string{"repository", "tags", "digest", "reason", "age", "size", "status"})

		for _, result := range summary.Results {
			table.Append([]string{
				result.Item.Repository,
				strings.Join(result.Item.Tags, ","),
				shortDigest(result.Item.Digest.String()),
				string(result.Item.Reason),
				formatAge(result.Item.Age),
				humanize.Bytes(uint64(result.Item.Size)),
				string(result.Status),
			})
		}

		table.Render()
		fmt.Fprintln(writer)
	}

	mode := "deleted"
	if summary.DryRun {
		mode = "would delete"
	}

	fmt.Fprintf(writer, "%s: %s dangling, %s outdated (%s of %s manifests, %s)\n",
		mode,
		humanize.Comma(int64(summary.Dangling)),
		humanize.Comma(int64(summary.Expired)),
		humanize.Comma(int64(summary.Succeeded)),
		humanize.Comma(int64(summary.Attempted)),
		humanize.Bytes(summary.BytesReclaimed))

	if summary.Skipped > 0 {
		fmt.Fprintf(writer, "skipped %s manifests, run deadline exceeded\n", humanize.Comma(int64(summary.Skipped)))
	}

	for _, repo := range summary.FailedRepos {
		fmt.Fprintf(writer, "failed to list repository %s\n", repo)
	}

	for _, failure := range summary.Failures {
		fmt.Fprintf(writer, "failed to delete %s@%s: %s\n", failure.Repository, failure.Digest, failure.Reason)
	}
}

func getSummaryTableWriter(writer io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(writer)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	return table
}

func shortDigest(digest string) string {
	trimmed := strings.TrimPrefix(digest, "sha256:")
	if len(trimmed) > shortDigestLen {
		return trimmed[:shortDigestLen]
	}

	return trimmed
}

func formatAge(age time.Duration) string {
	days := int(age.Hours() / 24)

	return fmt.Sprintf("%dd", days)
}
