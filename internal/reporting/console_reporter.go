package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"governor/internal/behavior"
	"governor/pkg/logging"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
)

// leafKinds are the units counted as tests in the summary.
var leafKinds = []string{
	string(behavior.UnitTest),
	string(behavior.UnitDynamic),
	string(behavior.UnitInvocation),
}

const nameColumn = 56

var (
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

// Summary is the outcome of a run as seen by the reporter.
type Summary struct {
	StartTime time.Time               `json:"start_time"`
	EndTime   time.Time               `json:"end_time"`
	Duration  time.Duration           `json:"duration"`
	Counts    map[behavior.Status]int `json:"counts"`
	Timeouts  int                     `json:"timeouts"`
	Abandoned int                     `json:"abandoned"`
	Aborted   string                  `json:"aborted,omitempty"`
	Units     []UnitRecord            `json:"units"`
	Params    map[string]string       `json:"parameters,omitempty"`
}

// Failed reports whether any test failed or the run aborted.
func (s Summary) Failed() bool {
	return s.Aborted != "" || s.Counts[behavior.StatusFailed] > 0 || s.Counts[behavior.StatusAborted] > 0
}

// ConsoleReporter renders engine events as one line per finished unit.
type ConsoleReporter struct {
	out     io.Writer
	verbose bool
	color   bool
	results *ResultStore

	mu        sync.Mutex
	started   time.Time
	finished  time.Time
	timeouts  int
	abandoned int
	aborted   string
	params    map[string]string
}

// NewConsoleReporter creates a reporter writing to out. Colors are used only
// when out is a terminal.
func NewConsoleReporter(out io.Writer, verbose bool) *ConsoleReporter {
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &ConsoleReporter{
		out:     out,
		verbose: verbose,
		color:   color,
		results: NewResultStore(),
	}
}

// SetParameters records the resolved parameters for the JSON report.
func (r *ConsoleReporter) SetParameters(params map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = params
}

// Attach subscribes the reporter to bus. A verbose reporter prints every
// event; otherwise it only needs run and unit outcomes plus warnings.
func (r *ConsoleReporter) Attach(bus EventBus) *Subscription {
	return bus.Subscribe(r.filter(), r.HandleEvent)
}

func (r *ConsoleReporter) filter() EventFilter {
	if r.verbose {
		return nil
	}
	return AnyOf(
		FilterByType(
			EventTypeRunStarted, EventTypeRunFinished, EventTypeRunAborted,
			EventTypeUnitStarted, EventTypeUnitFinished, EventTypeUnitSkipped,
		),
		FilterBySeverity(SeverityWarn),
	)
}

// HandleEvent processes one event.
func (r *ConsoleReporter) HandleEvent(event Event) {
	r.results.Apply(event)

	switch event.Type {
	case EventTypeRunStarted:
		r.mu.Lock()
		r.started = event.Time
		r.mu.Unlock()
		fmt.Fprintf(r.out, "%s\n", r.paint(headerStyle, "governor run"))

	case EventTypeRunFinished:
		r.mu.Lock()
		r.finished = event.Time
		r.mu.Unlock()

	case EventTypeRunAborted:
		r.mu.Lock()
		r.aborted = event.Message
		r.mu.Unlock()
		fmt.Fprintf(r.out, "%s %s\n", r.paint(failStyle, "ABORTED"), event.Message)

	case EventTypeTimeoutFired:
		r.mu.Lock()
		r.timeouts++
		r.mu.Unlock()
		if r.verbose {
			fmt.Fprintf(r.out, "%s%s %s\n", indent(event.Depth), r.paint(warningStyle, "⏱"), event.Message)
		}

	case EventTypeInvocationAbandoned:
		r.mu.Lock()
		r.abandoned++
		r.mu.Unlock()
		if r.verbose {
			fmt.Fprintf(r.out, "%s%s %s\n", indent(event.Depth), r.paint(warningStyle, "⚠"), event.Message)
		}

	case EventTypeFailureRecovered:
		if r.verbose {
			fmt.Fprintf(r.out, "%s%s %s\n", indent(event.Depth), r.paint(dimStyle, "↺"), event.Message)
		}

	case EventTypeUnitStarted:
		if r.verbose && !isLeaf(event.Kind) {
			fmt.Fprintf(r.out, "%s%s\n", indent(event.Depth), r.paint(headerStyle, lastSegment(event.Unit)))
		}

	case EventTypeUnitFinished, EventTypeUnitSkipped:
		r.printResult(event)
	}
}

func (r *ConsoleReporter) printResult(event Event) {
	// Containers only show up when something went wrong at their level.
	if !isLeaf(event.Kind) && event.Status != behavior.StatusFailed && event.Status != behavior.StatusAborted && !r.verbose {
		return
	}

	name := indent(event.Depth) + lastSegment(event.Unit)
	name = runewidth.FillRight(runewidth.Truncate(name, nameColumn, "…"), nameColumn)

	line := fmt.Sprintf("%s %s %s", r.symbol(event.Status), name, r.paint(dimStyle, formatDuration(event.Duration)))
	fmt.Fprintln(r.out, line)

	detail := event.ErrorText()
	if detail == "" && event.Status != behavior.StatusSuccess {
		detail = event.Message
	}
	if detail != "" {
		for _, l := range strings.Split(detail, "\n") {
			fmt.Fprintf(r.out, "%s    %s\n", indent(event.Depth), r.paint(dimStyle, l))
		}
	}
}

// Summary returns the current run summary.
func (r *ConsoleReporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := r.finished
	if end.IsZero() {
		end = time.Now()
	}
	return Summary{
		StartTime: r.started,
		EndTime:   end,
		Duration:  end.Sub(r.started),
		Counts:    r.results.CountByStatus(leafKinds...),
		Timeouts:  r.timeouts,
		Abandoned: r.abandoned,
		Aborted:   r.aborted,
		Units:     r.results.All(),
		Params:    r.params,
	}
}

// PrintSummary writes the closing summary.
func (r *ConsoleReporter) PrintSummary() Summary {
	s := r.Summary()

	fmt.Fprintf(r.out, "\n%s\n", r.paint(headerStyle, "Summary"))
	fmt.Fprintf(r.out, "  Duration:  %s\n", formatDuration(s.Duration))
	fmt.Fprintf(r.out, "  %s %d\n", r.paint(passStyle, "Passed:   "), s.Counts[behavior.StatusSuccess])
	if n := s.Counts[behavior.StatusRecovered]; n > 0 {
		fmt.Fprintf(r.out, "  %s %d\n", r.paint(passStyle, "Recovered:"), n)
	}
	if n := s.Counts[behavior.StatusFailed]; n > 0 {
		fmt.Fprintf(r.out, "  %s %d\n", r.paint(failStyle, "Failed:   "), n)
	}
	if n := s.Counts[behavior.StatusSkipped]; n > 0 {
		fmt.Fprintf(r.out, "  %s %d\n", r.paint(skipStyle, "Skipped:  "), n)
	}
	if n := s.Counts[behavior.StatusAborted]; n > 0 {
		fmt.Fprintf(r.out, "  %s %d\n", r.paint(failStyle, "Aborted:  "), n)
	}
	if s.Timeouts > 0 {
		fmt.Fprintf(r.out, "  Timeouts:  %d (%d abandoned)\n", s.Timeouts, s.Abandoned)
	}

	if s.Failed() {
		fmt.Fprintf(r.out, "\n%s\n", r.paint(failStyle, "FAILED"))
	} else {
		fmt.Fprintf(r.out, "\n%s\n", r.paint(passStyle, "OK"))
	}
	return s
}

// WriteJSON saves the summary as an indented JSON file.
func (r *ConsoleReporter) WriteJSON(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(r.Summary(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	logging.Info("Reporter", "Report saved to %s", path)
	return nil
}

func (r *ConsoleReporter) symbol(status behavior.Status) string {
	switch status {
	case behavior.StatusSuccess:
		return r.paint(passStyle, "PASS")
	case behavior.StatusRecovered:
		return r.paint(passStyle, "RCVR")
	case behavior.StatusFailed:
		return r.paint(failStyle, "FAIL")
	case behavior.StatusSkipped:
		return r.paint(skipStyle, "SKIP")
	case behavior.StatusAborted:
		return r.paint(failStyle, "ABRT")
	default:
		return "????"
	}
}

func (r *ConsoleReporter) paint(style lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return style.Render(text)
}

func isLeaf(kind string) bool {
	for _, k := range leafKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, " > "); i >= 0 {
		return path[i+3:]
	}
	return path
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(100 * time.Microsecond).String()
	default:
		return d.String()
	}
}
