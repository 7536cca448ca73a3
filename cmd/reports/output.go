package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/spektr-org/reports/config"
	"github.com/spektr-org/reports/engine"
)

// ============================================================================
// OUTPUT — table, csv and json renderings of CLI results
// ============================================================================
// csv is ready for Sheets/Excel; table is for terminals and localizes
// numbers; json is the engine's own shape.
// ============================================================================

type output struct {
	w       io.Writer
	format  string
	printer *message.Printer
}

func newOutput(w io.Writer, format string, tag language.Tag) *output {
	return &output{w: w, format: format, printer: message.NewPrinter(tag)}
}

func (o *output) table(t *engine.TableData) error {
	switch o.format {
	case "json":
		return o.json(t)
	case "csv":
		return o.csv(t.Header(), t.Rows)
	}

	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	if t.Title != "" {
		fmt.Fprintln(tw, t.Title)
	}
	fmt.Fprintln(tw, strings.Join(t.Header(), "\t"))
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := o.printer.Fprintf(o.w, "\n%d rows\n", len(t.Rows))
	return err
}

func (o *output) chart(c *engine.ChartResult) error {
	if o.format == "json" {
		return o.json(c)
	}
	if c.HasError() {
		if c.AbscissaError != "" {
			return fmt.Errorf("chart %q: abscissa: %s", c.Title, c.AbscissaError)
		}
		return fmt.Errorf("chart %q: ordinate: %s", c.Title, c.OrdinateError)
	}

	xLabel, yLabel := c.XAxis, c.YAxis
	if xLabel == "" {
		xLabel = "Label"
	}
	if yLabel == "" {
		yLabel = "Value"
	}

	if o.format == "csv" {
		rows := make([][]string, len(c.Labels))
		for i, label := range c.Labels {
			rows[i] = []string{label, c.Series[i].Value.String(), c.Series[i].Locator}
		}
		return o.csv([]string{xLabel, yLabel, "Locator"}, rows)
	}

	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, c.Title+"\t")
	fmt.Fprintf(tw, "%s\t%s\t\n", xLabel, yLabel)
	for i, label := range c.Labels {
		// Whole numbers print without decimals, fractions with two.
		v := c.Series[i].Value
		if v.IsInteger() {
			o.printer.Fprintf(tw, "%s\t%d\t\n", label, v.IntPart())
		} else {
			o.printer.Fprintf(tw, "%s\t%.2f\t\n", label, v.InexactFloat64())
		}
	}
	return tw.Flush()
}

// entities lists what a cursor yields, limit 0 meaning all.
func (o *output) entities(ctx context.Context, cur engine.Cursor, limit int) error {
	var list []*engine.Entity
	for (limit == 0 || len(list) < limit) && cur.Next(ctx) {
		list = append(list, cur.Entity())
	}
	if err := cur.Err(); err != nil {
		return err
	}

	if o.format == "json" {
		if list == nil {
			list = []*engine.Entity{}
		}
		return o.json(list)
	}
	rows := make([][]string, len(list))
	for i, e := range list {
		rows[i] = []string{e.Type, e.ID, e.String(), e.Owner}
	}
	header := []string{"Type", "ID", "Name", "Owner"}
	if o.format == "csv" {
		return o.csv(header, rows)
	}
	return o.tab(header, rows)
}

// catalog lists the saved reports and charts.
func (o *output) catalog(cfg *config.Config) error {
	type entry struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
		Name string `json:"name"`
		On   string `json:"on"`
	}
	var entries []entry
	for _, r := range cfg.Reports {
		entries = append(entries, entry{Kind: "report", ID: r.ID, Name: r.Name, On: r.EntityType})
	}
	for _, c := range cfg.Charts {
		entries = append(entries, entry{Kind: "chart", ID: c.ID, Name: c.Name, On: c.ReportID})
	}

	if o.format == "json" {
		if entries == nil {
			entries = []entry{}
		}
		return o.json(entries)
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.Kind, e.ID, e.Name, e.On}
	}
	header := []string{"Kind", "ID", "Name", "On"}
	if o.format == "csv" {
		return o.csv(header, rows)
	}
	return o.tab(header, rows)
}

func (o *output) csv(header []string, rows [][]string) error {
	cw := csv.NewWriter(o.w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func (o *output) tab(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func (o *output) json(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
