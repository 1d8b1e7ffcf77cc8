package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/aluiziolira/go-catalog-migrator/media"
	"github.com/aluiziolira/go-catalog-migrator/migrate"
	"github.com/aluiziolira/go-catalog-migrator/models"
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
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func printSummary(w io.Writer, runs []models.Stats, assets media.Stats, duration time.Duration) {
	headers := []string{"Entity", "State", "Pages", "Created", "Updated", "Skipped", "Failed", "Duration"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		state := string(r.State)
		if r.DryRun {
			state += " (dry run)"
		}
		rows = append(rows, []string{
			r.Entity,
			state,
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.Created),
			strconv.Itoa(r.Updated),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Failed),
			r.Duration().Round(time.Millisecond).String(),
		})
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, renderTable(headers, rows, aligns))
	fmt.Fprintf(w, "Media: %d uploaded, %d reused, %d failed, %d too large\n",
		assets.Uploaded, assets.Reused, assets.Failed, assets.TooLarge)
	fmt.Fprintf(w, "Total time: %v\n", duration.Round(time.Millisecond))
	for _, r := range runs {
		if r.Error != "" {
			fmt.Fprintf(w, "%s stopped: %s\n", r.Entity, r.Error)
		}
	}
}

func renderStatus(status migrate.Status) string {
	keys := make([]string, 0, len(status.Checkpoints))
	for key := range status.Checkpoints {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	cpRows := make([][]string, 0, len(keys))
	for _, key := range keys {
		cp := status.Checkpoints[key]
		last := "-"
		if cp.LastProcessedAt != nil {
			last = cp.LastProcessedAt.UTC().Format(time.RFC3339)
		}
		cpRows = append(cpRows, []string{key, strconv.Itoa(cp.LastCompletedPage), strconv.Itoa(cp.TotalProcessed), last})
	}

	entities := make([]string, 0, len(status.Mappings))
	for entity := range status.Mappings {
		entities = append(entities, entity)
	}
	slices.Sort(entities)

	mapRows := make([][]string, 0, len(entities))
	for _, entity := range entities {
		st := status.Mappings[entity]
		newest := "-"
		if !st.Newest.IsZero() {
			newest = st.Newest.UTC().Format(time.RFC3339)
		}
		mapRows = append(mapRows, []string{entity, strconv.Itoa(st.Count), newest})
	}

	out := "Checkpoints\n"
	if len(cpRows) == 0 {
		out += "  none\n"
	} else {
		out += renderTable([]string{"Key", "Last page", "Processed", "Updated"}, cpRows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft}) + "\n"
	}
	out += "\nMappings\n"
	if len(mapRows) == 0 {
		out += "  none"
	} else {
		out += renderTable([]string{"Entity", "Count", "Newest"}, mapRows,
			[]columnAlignment{alignLeft, alignRight, alignLeft})
	}
	return out
}
