package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/vuload/internal/engine"
	"github.com/wesleyorama2/vuload/internal/metrics"
	"github.com/wesleyorama2/vuload/internal/scheduler"
	"github.com/wesleyorama2/vuload/internal/stage"
	"github.com/wesleyorama2/vuload/internal/threshold"
)

const (
	ruleWidth   = 60
	metricWidth = 28
	clearToEnd  = "\033[K"
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer io.Writer

	// NoColor disables colors; ForceColor enables them on non-terminals.
	NoColor    bool
	ForceColor bool

	// Quiet suppresses the header and progress and shortens the summary
	// to the verdict.
	Quiet bool

	// ForceTTY redraws progress in place even if Writer is not a terminal.
	ForceTTY bool
}

// Console prints run progress and the final summary.
type Console struct {
	w      io.Writer
	scheme *ColorScheme
	tty    bool
	quiet  bool

	mu      sync.Mutex
	total   time.Duration
	stages  int
	maxVUs  int
	drawing bool
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	scheme := NoColorScheme()
	switch {
	case cfg.NoColor:
	case cfg.ForceColor:
		scheme = ForcedColorScheme()
	case SupportsColor(cfg.Writer):
		scheme = DefaultColorScheme()
	}

	return &Console{
		w:      cfg.Writer,
		scheme: scheme,
		tty:    cfg.ForceTTY || IsTerminal(cfg.Writer),
		quiet:  cfg.Quiet,
	}
}

// PrintHeader prints the test name and the load profile.
func (c *Console) PrintHeader(name string, p stage.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = p.Total()
	c.stages = len(p.Stages)
	c.maxVUs = p.Max()
	if c.quiet {
		return
	}

	s := c.scheme
	rule := s.Dim.Sprint(strings.Repeat("━", ruleWidth))
	c.println(rule)
	c.println(s.Title.Sprintf("%s - running", name))
	c.println(rule)
	c.printf("  duration: %s, max VUs: %s, stages: %d\n",
		s.Value.Sprint(formatDuration(c.total)), s.Value.Sprint(c.maxVUs), c.stages)
	for i, st := range p.Stages {
		label := st.Name
		if label == "" {
			label = fmt.Sprintf("stage %d", i+1)
		}
		c.printf("    %-10s %8s -> %d VUs\n", label, formatDuration(st.Duration), st.Target)
	}
	c.println("")
}

// Progress prints one progress line. On a terminal the line is redrawn in
// place; otherwise one line is appended per call.
func (c *Console) Progress(stats scheduler.Stats, snap *metrics.Snapshot) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.progressLine(stats, snap)
	if c.tty {
		fmt.Fprint(c.w, "\r"+line+clearToEnd)
		c.drawing = true
		return
	}
	c.println(line)
}

func (c *Console) progressLine(stats scheduler.Stats, snap *metrics.Snapshot) string {
	s := c.scheme

	pct := 0.0
	if c.total > 0 {
		pct = float64(stats.Elapsed) / float64(c.total)
		if pct > 1 {
			pct = 1
		}
	}

	var reqs int64
	if m, ok := snap.Get(metrics.HTTPReqs); ok {
		reqs = int64(m.Sum)
	}
	errRate := 0.0
	if m, ok := snap.Get(metrics.HTTPReqFailed); ok {
		errRate = m.Rate
	}
	p95 := 0.0
	if m, ok := snap.Get(metrics.HTTPReqDuration); ok {
		p95 = m.P95
	}

	return fmt.Sprintf("[%3.0f%%] %s/%s  VUs %s/%d  %s (%d/%d)  reqs %s  errors %s  p95 %s",
		pct*100,
		formatDuration(stats.Elapsed), formatDuration(c.total),
		s.Value.Sprint(stats.Active), stats.Target,
		s.Highlight.Sprint(string(stats.Phase)), stats.Stage+1, c.stages,
		s.Value.Sprint(formatNumber(reqs)),
		s.RateColor(errRate).Sprint(formatPercent(errRate)),
		s.Value.Sprint(formatMillis(p95)))
}

// PrintSummary prints the metrics, thresholds, group checks and verdict.
func (c *Console) PrintSummary(name string, r *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drawing {
		c.println("")
		c.drawing = false
	}

	s := c.scheme
	verdict := s.Pass.Sprint("PASSED ✓")
	if !r.Passed {
		verdict = s.Fail.Sprint("FAILED ✗")
	}
	if c.quiet {
		c.println(verdict)
		return
	}

	rule := s.Dim.Sprint(strings.Repeat("━", ruleWidth))
	c.println("")
	c.println(rule)
	c.printf("%s - %s\n", s.Title.Sprint(name), verdict)
	c.println(rule)
	c.printf("  duration: %s, iterations: %s, final state: %s\n\n",
		s.Value.Sprint(formatDuration(r.Duration)),
		s.Value.Sprint(formatNumber(r.Iterations)),
		r.FinalState())

	c.printMetrics(r.Snapshot, r.Duration)
	c.printThresholds(r.Thresholds)
	c.printGroups(r.Groups)
	c.printErrors(r)
}

func (c *Console) printMetrics(snap *metrics.Snapshot, elapsed time.Duration) {
	if snap == nil || len(snap.Metrics) == 0 {
		return
	}
	s := c.scheme

	c.println(s.Title.Sprint("Metrics:"))
	for _, name := range snap.Names() {
		// Tagged series are in the JSON report.
		if strings.ContainsRune(name, '{') {
			continue
		}
		m, _ := snap.Get(name)
		c.printf("  %s: %s\n", s.Label.Sprint(dots(name, metricWidth)), c.metricValue(name, m, elapsed))
	}
	c.println("")
}

func (c *Console) metricValue(name string, m *metrics.MetricSnapshot, elapsed time.Duration) string {
	s := c.scheme
	switch m.Kind {
	case metrics.KindTrend:
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
			s.Value.Sprint(formatMillis(m.Mean)), s.Value.Sprint(formatMillis(m.Min)),
			s.Value.Sprint(formatMillis(m.P50)), s.Value.Sprint(formatMillis(m.Max)),
			s.Value.Sprint(formatMillis(m.P90)), s.Value.Sprint(formatMillis(m.P95)))
	case metrics.KindCounter:
		if name == metrics.DataReceived {
			return fmt.Sprintf("%s %s/s", s.Value.Sprint(formatBytes(m.Sum)), formatBytes(m.PerSecond(elapsed)))
		}
		return fmt.Sprintf("%s %.2f/s", s.Value.Sprint(formatNumber(int64(m.Sum))), m.PerSecond(elapsed))
	case metrics.KindGauge:
		return fmt.Sprintf("%s min=%g max=%g", s.Value.Sprint(m.Last), m.Min, m.Max)
	case metrics.KindRate:
		return fmt.Sprintf("%s %s %d %s %d",
			s.Value.Sprint(formatPercent(m.Rate)),
			s.PassIcon(), m.Passes, s.FailIcon(), m.Fails)
	}
	return fmt.Sprintf("%g", m.Sum)
}

func (c *Console) printThresholds(results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	s := c.scheme

	c.println(s.Title.Sprint("Thresholds:"))
	for _, t := range results {
		expr := t.Expression
		if !strings.Contains(expr, t.Metric) {
			expr = t.Metric + " " + expr
		}
		line := fmt.Sprintf("  %s %s", s.Icon(t.Passed), expr)
		switch {
		case t.Err != nil:
			line += " " + s.Fail.Sprintf("(%v)", t.Err)
		case t.Passed:
			line += s.Dim.Sprintf(" (actual: %g)", t.Actual)
		default:
			line = s.Fail.Sprintf("  ✗ %s (actual: %g)", expr, t.Actual)
		}
		c.println(line)
	}
	c.println("")
}

func (c *Console) printGroups(groups []engine.GroupSummary) {
	if len(groups) == 0 {
		return
	}
	s := c.scheme

	sorted := append([]engine.GroupSummary(nil), groups...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Group < sorted[j].Group })

	c.println(s.Title.Sprint("Checks by group:"))
	for _, g := range sorted {
		if g.Fails == 0 {
			c.printf("  %s %s (%d passed)\n", s.PassIcon(), g.Group, g.Passes)
			continue
		}
		c.println(s.Fail.Sprintf("  ✗ %s: %d of %d checks failed", g.Group, g.Fails, g.Passes+g.Fails))
	}
	c.println("")
}

func (c *Console) printErrors(r *engine.Result) {
	s := c.scheme
	lines := []struct {
		label string
		err   error
	}{
		{"setup", r.SetupError},
		{"teardown", r.TeardownError},
		{"fatal", r.FatalError},
	}
	for _, l := range lines {
		if l.err != nil {
			c.printf("%s %s\n", s.Fail.Sprintf("%s error:", l.label), l.err)
		}
	}
	if r.Aborted {
		c.printf("%s %s\n", s.Fail.Sprint("aborted:"), r.AbortReason)
	}
	if r.Interrupted {
		c.println(s.Warn.Sprint("interrupted before the profile completed"))
	}
}

func (c *Console) println(line string) {
	fmt.Fprintln(c.w, line)
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format, args...)
}
