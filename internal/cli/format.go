package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fpang/media-ingest/internal/ingest"
	"github.com/fpang/media-ingest/internal/media"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// PrintResult writes a short human-readable summary of a run.
func PrintResult(w io.Writer, res ingest.Result) {
	fmt.Fprintf(w, "Run %s for user %s: %s (%s)\n", res.RunID, res.UserID, res.Status, FormatDurationShort(res.Elapsed))
	switch res.Status {
	case ingest.StatusDone:
		fmt.Fprintf(w, "  fetched %d, constructed %d, saved %d, enriched %d\n",
			res.Fetched, res.Constructed, res.Saved, res.Enriched)
	case ingest.StatusNothingNew:
		fmt.Fprintln(w, "  no new media since the last run")
	default:
		if res.Err != nil {
			fmt.Fprintf(w, "  failed in state %s: %v\n", res.State, res.Err)
		}
	}
}

// PrintItems writes items as an aligned table, newest first as given.
func PrintItems(w io.Writer, items []media.Item) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PUBLISHED\tTYPE\tMEDIA ID\tPARENT\tDESCRIPTION")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			it.PublishTimestamp.UTC().Format(time.RFC3339),
			it.MediaType,
			it.MediaID,
			deref(it.ParentMediaID, "-"),
			truncate(deref(it.Description, ""), 60))
	}
	return tw.Flush()
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
