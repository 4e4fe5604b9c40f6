package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/fsm-bench/internal/domain"
)

// ResultRow is one aggregate row with derived accuracies.
type ResultRow struct {
	RunID         string  `yaml:"run_id"`
	TaskLength    int     `yaml:"task_length"`
	TurnSuccesses int     `yaml:"turn_successes"`
	TaskSuccesses int     `yaml:"task_successes"`
	TotalRuns     int     `yaml:"total_runs"`
	TurnAccuracy  float64 `yaml:"turn_accuracy"`
	TaskAccuracy  float64 `yaml:"task_accuracy"`
}

// BuildResults derives accuracies from raw aggregate rows.
func BuildResults(rows []domain.AggregateRow) []ResultRow {
	out := make([]ResultRow, 0, len(rows))
	for _, r := range rows {
		row := ResultRow{
			RunID:         r.RunID,
			TaskLength:    r.TaskLength,
			TurnSuccesses: r.TurnSuccesses,
			TaskSuccesses: r.TaskSuccesses,
			TotalRuns:     r.TotalRuns,
		}
		if r.TotalRuns > 0 {
			row.TurnAccuracy = float64(r.TurnSuccesses) / float64(r.TotalRuns)
			row.TaskAccuracy = float64(r.TaskSuccesses) / float64(r.TotalRuns)
		}
		out = append(out, row)
	}
	return out
}

// WriteResultsTable prints the aggregate accuracy table.
func WriteResultsTable(out io.Writer, rows []domain.AggregateRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tLENGTH\tTURN ACC\tTASK ACC\tRUNS")
	for _, r := range BuildResults(rows) {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.1f%%\t%d\n",
			r.RunID, r.TaskLength, r.TurnAccuracy*100, r.TaskAccuracy*100, r.TotalRuns)
	}
	w.Flush()
}

// WriteResultsYAML emits the aggregate rows as a YAML document.
func WriteResultsYAML(out io.Writer, rows []domain.AggregateRow) error {
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	return enc.Encode(BuildResults(rows))
}

// TriageGroup is one failure type with its share of the error log.
type TriageGroup struct {
	FailureType domain.FailureType
	Count       int
	Examples    []domain.ErrorEntry
}

// Triage groups error entries by failure type, most frequent first, keeping
// up to examplesPerType entries of each kind.
func Triage(entries []domain.ErrorEntry, examplesPerType int) []TriageGroup {
	byType := make(map[domain.FailureType]*TriageGroup)
	for _, e := range entries {
		g, ok := byType[e.FailureType]
		if !ok {
			g = &TriageGroup{FailureType: e.FailureType}
			byType[e.FailureType] = g
		}
		g.Count++
		if len(g.Examples) < examplesPerType {
			g.Examples = append(g.Examples, e)
		}
	}

	groups := make([]TriageGroup, 0, len(byType))
	for _, g := range byType {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].FailureType < groups[j].FailureType
	})
	return groups
}

// WriteErrorReport prints the failure breakdown with example responses.
func WriteErrorReport(out io.Writer, entries []domain.ErrorEntry, examplesPerType int) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No errors logged.")
		return
	}

	fmt.Fprintf(out, "Total errors: %d\n\n", len(entries))
	for _, g := range Triage(entries, examplesPerType) {
		pct := float64(g.Count) / float64(len(entries)) * 100
		fmt.Fprintf(out, "%s: %d (%.1f%%)\n", g.FailureType, g.Count, pct)
		for _, e := range g.Examples {
			fmt.Fprintf(out, "  instance %d turn %d (length %d): expected %s\n",
				e.InstanceID, e.TurnNumber, e.TaskLength, e.ExpectedState)
			fmt.Fprintf(out, "    response: %s\n", excerpt(e.RawResponse, 120))
		}
		fmt.Fprintln(out)
	}
}

func excerpt(s string, max int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
