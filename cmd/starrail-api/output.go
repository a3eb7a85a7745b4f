package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/torikushiii/HonkaiStarRailAPI/internal/codes"
	"github.com/torikushiii/HonkaiStarRailAPI/internal/reconcile"
)

// printer handles table or JSON output.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(format string, w io.Writer) *printer {
	return &printer{format: format, w: w}
}

// codeView is the JSON shape of one record.
type codeView struct {
	Code         string    `json:"code"`
	Rewards      []string  `json:"rewards"`
	Source       string    `json:"source"`
	Active       bool      `json:"active"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

func viewOf(r codes.Record) codeView {
	v := codeView{Code: r.Code, Rewards: r.Rewards, Source: r.Source, Active: r.Active, DiscoveredAt: r.DiscoveredAt}
	if v.Rewards == nil {
		v.Rewards = []string{}
	}
	return v
}

func viewsOf(rs []codes.Record) []codeView {
	out := make([]codeView, len(rs))
	for i, r := range rs {
		out[i] = viewOf(r)
	}
	return out
}

func (p *printer) split(s codes.Split) error {
	if p.format == "json" {
		return p.json(map[string][]codeView{
			"active":   viewsOf(s.Active),
			"inactive": viewsOf(s.Inactive),
		})
	}
	all := make([]codes.Record, 0, len(s.Active)+len(s.Inactive))
	all = append(all, s.Active...)
	all = append(all, s.Inactive...)
	return p.records(all)
}

func (p *printer) records(rs []codes.Record) error {
	if p.format == "json" {
		return p.json(viewsOf(rs))
	}
	rows := make([][]string, 0, len(rs))
	for _, r := range rs {
		rows = append(rows, []string{
			r.Code,
			strconv.FormatBool(r.Active),
			r.Source,
			r.DiscoveredAt.Format(time.DateTime),
			strings.Join(r.Rewards, ", "),
		})
	}
	p.table([]string{"CODE", "ACTIVE", "SOURCE", "DISCOVERED", "REWARDS"}, rows)
	return nil
}

func (p *printer) revalidation(rep reconcile.Report) error {
	if p.format == "json" {
		deactivated := rep.Deactivated
		if deactivated == nil {
			deactivated = []string{}
		}
		return p.json(map[string]any{
			"checked":     rep.Checked,
			"excluded":    rep.Excluded,
			"deactivated": deactivated,
		})
	}
	p.kv([][2]string{
		{"Checked", strconv.Itoa(rep.Checked)},
		{"Excluded", strconv.Itoa(rep.Excluded)},
		{"Deactivated", strings.Join(rep.Deactivated, ", ")},
	})
	return nil
}

// json marshals v as indented JSON.
func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes rows using tabwriter. header is the first row.
func (p *printer) table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// kv prints a key-value detail view.
func (p *printer) kv(pairs [][2]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, pair := range pairs {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", pair[0], pair[1])
	}
	_ = tw.Flush()
}
