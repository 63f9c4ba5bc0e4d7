package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"PlumFinder/internal/app"
	"PlumFinder/internal/domain"
)

func renderRanked(out io.Writer, ranked []domain.RankedItem) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Title", "Source", "Price", "Distance", "Color", "Recency", "Price Fit", "Proximity", "Score"})

	for i, r := range ranked {
		d := domain.NewDeliveryItem(r)
		t.AppendRow(table.Row{
			i + 1,
			truncate(d.Title, 48),
			d.Source,
			d.PriceText(),
			d.DistanceText(),
			fmt.Sprintf("%.2f", r.Scores.Color),
			fmt.Sprintf("%.2f", r.Scores.Recency),
			fmt.Sprintf("%.2f", r.Scores.Price),
			fmt.Sprintf("%.2f", r.Scores.Proximity),
			fmt.Sprintf("%.3f", r.Composite),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d candidates", len(ranked))})
	t.Render()
}

func renderStats(out io.Writer, stats app.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Backend", "Records"})
	t.AppendRow(table.Row{stats.Backend, stats.Records})
	t.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
