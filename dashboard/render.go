package dashboard

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	displayDateLayout = "02.01.2006"
	statusLayout      = displayDateLayout + " 15:04:05"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// RenderSummary writes the latest shares and month-over-month deltas.
func RenderSummary(w io.Writer, s Summary, now time.Time) {
	fmt.Fprintln(w, "Civey: Trends Sonntagsfrage")
	fmt.Fprintf(w, "Status: %s\n", now.Format(statusLayout))

	if s.Latest == nil {
		fmt.Fprintln(w, "No poll data available.")
		return
	}

	t := newTable(w)
	title := fmt.Sprintf("Latest poll %s", s.Latest.Date.Format(displayDateLayout))
	if s.Previous != nil {
		title += fmt.Sprintf(" vs %s", s.Previous.Date.Format(displayDateLayout))
	}
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Party", "Share", "Δ prev. month"})
	for _, trend := range s.Trends {
		share := "-"
		if trend.HasLatest {
			share = formatShare(trend.Latest)
		}
		delta := "-"
		if trend.HasLatest && trend.HasPrevious {
			delta = fmt.Sprintf("%+.1f pp", trend.Delta()*100)
		}
		t.AppendRow(table.Row{trend.Label, share, delta})
	}
	t.AppendFooter(table.Row{"Error margin", formatShare(s.Latest.ErrorMargin), ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	t.Render()
}

// RenderRows writes one line per observation with a column per party.
func RenderRows(w io.Writer, parties []string, rows []Row) {
	if len(rows) == 0 {
		return
	}

	t := newTable(w)
	header := table.Row{"Date"}
	for _, party := range parties {
		header = append(header, party)
	}
	t.AppendHeader(header)

	for _, row := range rows {
		line := table.Row{row.Date.Format(displayDateLayout)}
		for _, party := range parties {
			if v, ok := row.Parties[party]; ok {
				line = append(line, formatShare(v))
			} else {
				line = append(line, "")
			}
		}
		t.AppendRow(line)
	}
	t.Render()
}

func formatShare(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
