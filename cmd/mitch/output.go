package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/mitch/internal/session"
	"github.com/srg/mitch/scanner"
)

// printer writes human-readable output, colored only on a terminal.
type printer struct {
	w     io.Writer
	name  *color.Color
	dim   *color.Color
	good  *color.Color
	alert *color.Color
}

func newPrinter(w io.Writer) *printer {
	return newPrinterWithColor(w, isTerminal(w))
}

func newPrinterWithColor(w io.Writer, enable bool) *printer {
	p := &printer{
		w:     w,
		name:  color.New(color.FgCyan, color.Bold),
		dim:   color.New(color.Faint),
		good:  color.New(color.FgGreen),
		alert: color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{p.name, p.dim, p.good, p.alert} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) discovery(d scanner.Discovery) {
	fmt.Fprintf(p.w, "[%d] %s  %s\n", d.ID, p.name.Sprint(d.Name), p.dim.Sprint(d.Address))
}

func (p *printer) summary(s session.Summary) {
	state := "unknown"
	if s.State != nil {
		state = *s.State
	}
	link := p.alert.Sprint("disconnected")
	if s.Connected {
		link = p.good.Sprint("connected")
	}

	fmt.Fprintf(p.w, "[%d] %s  %s\n", s.ID, p.name.Sprint(s.Name), p.dim.Sprint(s.Address))
	fmt.Fprintf(p.w, "  link:  %s\n", link)
	fmt.Fprintf(p.w, "  state: %s\n", state)
	if s.Recording != nil {
		fmt.Fprintf(p.w, "  recording: %s\n", s.Recording.String())
	}
	if s.Samples > 0 || s.Skipped > 0 {
		fmt.Fprintf(p.w, "  samples: %d (skipped %d)\n", s.Samples, s.Skipped)
	}
	if s.LastError != "" {
		fmt.Fprintf(p.w, "  error: %s\n", p.alert.Sprint(s.LastError))
	}
}

func (p *printer) rate(elapsed time.Duration, r rateReport) {
	values := make([]string, len(r.Last))
	for i, v := range r.Last {
		values[i] = fmt.Sprint(v)
	}
	fmt.Fprintf(p.w, "%6s  %s  %7.1f Hz  total %d  last [%s]\n",
		elapsed.Truncate(time.Second), p.name.Sprint(r.Stream), r.Rate, r.Total, strings.Join(values, " "))
}

// rateReport is one monitor line.
type rateReport struct {
	Stream string
	Rate   float64
	Total  uint64
	Last   []int16
}

// rateMeter counts samples between reports.
type rateMeter struct {
	stream  string
	total   uint64
	pending uint64
	last    []int16
	since   time.Time
}

func newRateMeter(stream string, now time.Time) *rateMeter {
	return &rateMeter{stream: stream, since: now}
}

func (m *rateMeter) add(values []int16) {
	m.total++
	m.pending++
	m.last = values
}

// report returns the rate since the previous report and starts a new window.
func (m *rateMeter) report(now time.Time) rateReport {
	r := rateReport{Stream: m.stream, Total: m.total, Last: m.last}
	if window := now.Sub(m.since); window > 0 {
		r.Rate = float64(m.pending) / window.Seconds()
	}
	m.pending = 0
	m.since = now
	return r
}
