package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	v1 "mediarender/internal/contracts/render/v1"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiYel   = "\x1b[33m"
)

func colorStatus(s v1.JobStatus, colorize bool) string {
	if !colorize {
		return string(s)
	}
	switch s {
	case v1.JobSucceeded:
		return ansiGreen + string(s) + ansiReset
	case v1.JobFailed, v1.JobTimedOut:
		return ansiRed + string(s) + ansiReset
	case v1.JobCancelled, v1.JobExpired:
		return ansiYel + string(s) + ansiReset
	default:
		return string(s)
	}
}

func jobRows(jobs []v1.Job, now time.Time, colorize bool) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		size := "-"
		if j.Artifact != nil {
			size = humanize.IBytes(uint64(j.Artifact.SizeBytes))
		}
		rows = append(rows, []string{
			j.ID,
			colorStatus(j.Status, colorize),
			j.OutputFormat,
			fmt.Sprintf("%3.0f%%", j.Progress*100),
			size,
			humanize.RelTime(j.CreatedAt, now, "ago", "from now"),
			j.Input,
		})
	}
	return rows
}

var jobHeaders = []string{"ID", "STATUS", "FORMAT", "PROGRESS", "SIZE", "CREATED", "INPUT"}
var jobAligns = []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}

// progressPrinter redraws one line on a terminal and prints one line per
// status change otherwise.
type progressPrinter struct {
	w        io.Writer
	tty      bool
	last     v1.JobStatus
	drewLine bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, tty: isTerminal(w)}
}

func (p *progressPrinter) update(j v1.Job) {
	if p.tty {
		const width = 30
		filled := int(j.Progress * width)
		if filled > width {
			filled = width
		}
		bar := strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
		fmt.Fprintf(p.w, "\r%s [%s] %3.0f%% %-10s", j.ID, bar, j.Progress*100, j.Status)
		p.drewLine = true
		return
	}
	if j.Status != p.last {
		fmt.Fprintf(p.w, "%s %s\n", j.ID, j.Status)
	}
	p.last = j.Status
}

func (p *progressPrinter) done() {
	if p.drewLine {
		fmt.Fprintln(p.w)
	}
}

func describeArtifact(name string, size int64, duration float64) string {
	out := fmt.Sprintf("saved %s (%s", name, humanize.IBytes(uint64(size)))
	if duration > 0 {
		out += fmt.Sprintf(", %.1fs", duration)
	}
	return out + ")"
}
