package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names read by the summary.
const (
	metricSent      = "tracecraft_probe_sent_total"
	metricFailed    = "tracecraft_probe_send_errors_total"
	metricReplies   = "tracecraft_replies_total"
	metricMutations = "tracecraft_middlebox_mutations_total"
)

// Summary holds the counters of a run, keyed by label value.
type Summary struct {
	Sent      map[string]float64
	Failed    map[string]float64
	Replies   map[string]float64
	Mutations map[string]float64
}

// GatherSummary reads the run counters from g.
func GatherSummary(g prometheus.Gatherer) (*Summary, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Sent:      map[string]float64{},
		Failed:    map[string]float64{},
		Replies:   map[string]float64{},
		Mutations: map[string]float64{},
	}
	targets := map[string]struct {
		label string
		into  map[string]float64
	}{
		metricSent:      {"protocol", s.Sent},
		metricFailed:    {"protocol", s.Failed},
		metricReplies:   {"type", s.Replies},
		metricMutations: {"group", s.Mutations},
	}

	for _, mf := range families {
		t, ok := targets[mf.GetName()]
		if !ok {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == t.label {
					t.into[lp.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return s, nil
}

// TableFormatter renders run summaries as tables.
type TableFormatter struct {
	config Config
	colors *ColorScheme
}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter(config Config) *TableFormatter {
	var colors *ColorScheme
	if config.Colors {
		colors = DefaultColorScheme()
	}

	return &TableFormatter{
		config: config,
		colors: colors,
	}
}

// WriteSummary writes the per-protocol probe counts and, when any were
// received, the reply and middlebox counts.
func (f *TableFormatter) WriteSummary(w io.Writer, s *Summary) {
	header := "\nSummary:\n"
	if f.colors != nil {
		header = f.colors.Header.Sprint(header)
	}
	io.WriteString(w, header)

	table := tablewriter.NewWriter(w)
	f.configureTable(table)
	table.SetHeader([]string{"Protocol", "Sent", "Failed"})
	protocols := keys(s.Sent, s.Failed)
	for _, p := range protocols {
		failed := formatCount(s.Failed[p])
		if s.Failed[p] > 0 && f.colors != nil {
			failed = f.colors.Bad.Sprint(failed)
		}
		table.Append([]string{p, formatCount(s.Sent[p]), failed})
	}
	if len(protocols) == 0 {
		table.Append([]string{"-", "0", "0"})
	}
	table.Render()

	if len(s.Replies) > 0 {
		f.writeCounts(w, "Reply type", s.Replies, false)
	}
	if len(s.Mutations) > 0 {
		f.writeCounts(w, "Modified fields", s.Mutations, true)
	}
}

func (f *TableFormatter) writeCounts(w io.Writer, title string, counts map[string]float64, alert bool) {
	io.WriteString(w, "\n")
	table := tablewriter.NewWriter(w)
	f.configureTable(table)
	table.SetHeader([]string{title, "Count"})
	for _, k := range keys(counts) {
		name := k
		if alert && f.colors != nil {
			name = f.colors.Bad.Sprint(name)
		}
		table.Append([]string{name, formatCount(counts[k])})
	}
	table.Render()
}

// configureTable sets up the table appearance.
func (f *TableFormatter) configureTable(table *tablewriter.Table) {
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("│")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)
	table.SetTablePadding(" ")
}

func keys(maps ...map[string]float64) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func formatCount(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return fmt.Sprintf("%.0f", v)
}
