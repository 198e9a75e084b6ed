package output

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wesleyorama2/kpcbench/kpc"
)

// TextFormatter renders human-readable output with grouped numbers.
type TextFormatter struct {
	NoColor bool
	colors  *ColorScheme
	printer *message.Printer
}

// NewTextFormatter creates a text formatter. Color is applied unless
// noColor is set.
func NewTextFormatter(noColor bool) *TextFormatter {
	colors := ForcedColorScheme()
	if noColor {
		colors = NoColorScheme()
	}
	return &TextFormatter{
		NoColor: noColor,
		colors:  colors,
		printer: message.NewPrinter(language.English),
	}
}

// Number formats n with thousands separators.
func (f *TextFormatter) Number(n any) string {
	return f.printer.Sprintf("%d", n)
}

// Float formats v with thousands separators and one decimal.
func (f *TextFormatter) Float(v float64) string {
	return f.printer.Sprintf("%.1f", v)
}

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func (f *TextFormatter) header(buf *strings.Builder, title string) {
	buf.WriteString(f.colors.Title.Sprint(rule) + "\n")
	buf.WriteString(f.colors.Title.Sprint(title) + "\n")
	buf.WriteString(f.colors.Title.Sprint(rule) + "\n")
}

func (f *TextFormatter) field(buf *strings.Builder, label, value string) {
	fmt.Fprintf(buf, "%s %s\n", f.colors.Label.Sprintf("%-14s", label+":"), value)
}

// FormatReport formats a measurement report as aligned text
func (f *TextFormatter) FormatReport(r *Report) (string, error) {
	data, err := NewReportData(r)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	f.header(&buf, "kpcbench report")
	if data.Profile != "" {
		f.field(&buf, "Profile", data.Profile)
	}
	workload := data.Workload.Name
	if data.Workload.Iterations > 0 {
		workload = fmt.Sprintf("%s (%s iterations)", workload, f.Number(data.Workload.Iterations))
	}
	if workload != "" {
		f.field(&buf, "Workload", workload)
	}
	f.field(&buf, "Database", data.Database)
	if data.UserSpaceOnly {
		f.field(&buf, "Mode", "user space only")
	}
	f.field(&buf, "Runs", f.Number(data.Runs))
	buf.WriteString("\n")

	if data.Runs > 1 {
		f.writeStats(&buf, data.Stats)
	} else {
		f.writeDeltas(&buf, data.Events)
	}
	return buf.String(), nil
}

func (f *TextFormatter) writeDeltas(buf *strings.Builder, deltas []kpc.Delta) {
	// Colors are applied per cell after padding so escape codes do not
	// disturb the alignment.
	nameWidth, keyWidth, countWidth := 0, 0, 0
	counts := make([]string, len(deltas))
	for i, d := range deltas {
		counts[i] = f.Number(d.Count)
		nameWidth = max(nameWidth, len(d.Name))
		keyWidth = max(keyWidth, len(d.Key))
		countWidth = max(countWidth, len(counts[i]))
	}

	for i, d := range deltas {
		fmt.Fprintf(buf, "  %s  %s  %s\n",
			f.colors.EventName.Sprintf("%-*s", nameWidth, d.Name),
			f.colors.EventKey.Sprintf("%-*s", keyWidth, d.Key),
			f.colors.Count.Sprintf("%*s", countWidth, counts[i]))
	}
}

func (f *TextFormatter) writeStats(buf *strings.Builder, stats []kpc.EventStats) {
	tw := tabwriter.NewWriter(buf, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Event\tMin\tP50\tMean\tP90\tP99\tMax\tStdDev\t")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			s.Name,
			f.Number(s.Min),
			f.Number(s.P50),
			f.Float(s.Mean),
			f.Number(s.P90),
			f.Number(s.P99),
			f.Number(s.Max),
			f.Float(s.StdDev))
	}
	_ = tw.Flush()

	for _, s := range stats {
		if s.Saturated > 0 {
			fmt.Fprintf(buf, "%s %s: %d samples exceeded the histogram range\n",
				WarningIcon(f.NoColor), s.Name, s.Saturated)
		}
	}
}

// FormatEvents formats an event listing as text
func (f *TextFormatter) FormatEvents(database string, events []kpc.EventInfo) (string, error) {
	var buf strings.Builder
	f.header(&buf, fmt.Sprintf("%s: %s events", database, f.Number(len(events))))

	nameWidth := 0
	for _, ev := range events {
		nameWidth = max(nameWidth, len(ev.Name))
	}
	for _, ev := range events {
		line := f.colors.EventName.Sprintf("%-*s", nameWidth, ev.Name)
		if ev.Description != "" {
			line += "  " + f.colors.Description.Sprint(ev.Description)
		}
		if ev.Alias != "" {
			line += " " + f.colors.EventKey.Sprintf("(%s)", ev.Alias)
		}
		buf.WriteString(line + "\n")
	}
	return buf.String(), nil
}

// FormatPlatform formats a platform report as a checklist
func (f *TextFormatter) FormatPlatform(p *kpc.Platform) (string, error) {
	var buf strings.Builder
	f.header(&buf, "kpcbench check")

	host := p.Host.OS + "/" + p.Host.Arch
	if p.Host.Model != "" {
		host = fmt.Sprintf("%s, %s", host, p.Host.Model)
	}
	if p.Host.LogicalCores > 0 {
		host = fmt.Sprintf("%s, %d cores", host, p.Host.LogicalCores)
	}
	f.field(&buf, "Host", host)
	if p.Resolved {
		f.field(&buf, "CPU", p.CPU)
		f.field(&buf, "PMU version", f.Number(p.PMUVersion))
		f.field(&buf, "Database", p.Database)
		f.field(&buf, "Counters", fmt.Sprintf("%d fixed, %d configurable",
			p.Counters.Fixed, p.Counters.Configurable))
	}
	buf.WriteString("\n")

	f.check(&buf, p.Resolved, "frameworks loaded")
	if p.Resolved {
		f.check(&buf, p.Permitted, "counter access permitted")
	}
	if p.Permitted {
		f.check(&buf, !p.Busy, "counters available")
	}
	for _, problem := range p.Problems {
		fmt.Fprintf(&buf, "%s %s\n", WarningIcon(f.NoColor), f.colors.Error.Sprint(problem))
	}

	if p.Ready() {
		buf.WriteString(f.colors.Success.Sprint("ready") + "\n")
	} else {
		buf.WriteString(f.colors.Error.Sprint("not ready") + "\n")
	}
	return buf.String(), nil
}

func (f *TextFormatter) check(buf *strings.Builder, ok bool, what string) {
	icon := SuccessIcon(f.NoColor)
	if !ok {
		icon = ErrorIcon(f.NoColor)
	}
	fmt.Fprintf(buf, "%s %s\n", icon, what)
}
