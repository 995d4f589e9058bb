package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Witriol/bgxfer/internal/protocol"
)

func renderStatus(id protocol.JobID, st protocol.JobStatus) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendRows([]table.Row{
		{"Job", id.String()},
		{"State", st.State.String()},
		{"Priority", st.Priority.String()},
		{"Progress", formatProgress(st.Progress)},
		{"Files", fmt.Sprintf("%d / %d", st.Progress.TransferredFiles, st.Progress.TotalFiles)},
		{"Errors", st.ErrorCount},
	})
	if st.Error != nil {
		tw.AppendRow(table.Row{"Last error", st.Error.String()})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, Colors: text.Colors{text.Bold}},
		{Number: 2, Align: text.AlignLeft},
	})
	return tw.Render()
}

func progressLine(id protocol.JobID, st protocol.JobStatus) string {
	return fmt.Sprintf("%s  %-12s %s", shortID(id), st.State, formatProgress(st.Progress))
}

func formatProgress(p protocol.JobProgress) string {
	done := humanize.IBytes(p.TransferredBytes)
	if p.TotalBytes == protocol.UnknownSize {
		return done + " / ?"
	}
	return fmt.Sprintf("%s / %s (%.1f%%)", done, humanize.IBytes(p.TotalBytes), p.Percent())
}

func shortID(id protocol.JobID) string {
	s := id.String()
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}
