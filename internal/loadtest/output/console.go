// Package output renders load test progress and results.
package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/payramp/internal/loadtest/engine"
	"github.com/wesleyorama2/payramp/internal/loadtest/metrics"
)

// Cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	ruleWidth = 56
	boxWidth  = 55

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	// CheckRate is the share of passed checks so far
	CheckRate float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// ConsoleOutput manages console output during test execution.
type ConsoleOutput struct {
	testName      string
	executorType  string
	totalDuration time.Duration
	writer        io.Writer
	isTTY         bool
	quiet         bool
	colors        *palette

	mu          sync.Mutex
	linesOutput int // lines of the live display to redraw
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName      string
	ExecutorType  string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	ForceColors   bool
	NoColors      bool
	ForceTTY      bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColors && (config.ForceColors || (isTTY && supportsColors()))

	return &ConsoleOutput{
		testName:      config.TestName,
		executorType:  config.ExecutorType,
		totalDuration: config.TotalDuration,
		writer:        config.Writer,
		isTTY:         isTTY,
		quiet:         config.Quiet,
		colors:        newPalette(useColors),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if f != os.Stdout && f != os.Stderr {
		return false
	}
	return checkIsTerminal(f)
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if runtime.GOOS == "windows" {
		return true
	}

	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.colors.title.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	title := c.testName + " - Running"
	if c.executorType != "" {
		title += fmt.Sprintf(" [%s]", c.executorType)
	}
	if c.totalDuration > 0 {
		title += fmt.Sprintf(" for %s", formatDuration(c.totalDuration))
	}

	c.writeln(line)
	c.writeln(c.colors.bold.Sprint(title))
	c.writeln(line)
	c.writeln("")
}

// Update redraws the live display. It does nothing unless the output is a
// terminal.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live display. Callers hold c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	p := c.colors
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		p.good.Sprint(renderProgressBar(stats.Progress, 40)),
		p.bold.Sprintf("%.0f%%", stats.Progress*100),
		p.dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, "Stage:    "+p.phase.Sprint(phaseInfo), "")

	lines = append(lines, p.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("VUs:     %s / %d", p.value.Sprint(stats.ActiveVUs), stats.TargetVUs),
		"Requests:    "+p.value.Sprint(formatNumber(stats.TotalRequests))))

	errColor := p.rate(1 - stats.ErrorRate)
	lines = append(lines, c.formatBoxRow(
		"RPS:     "+p.good.Sprintf("%.1f", stats.CurrentRPS),
		fmt.Sprintf("Errors:      %s (%s)", errColor.Sprint(stats.Errors), errColor.Sprintf("%.1f%%", stats.ErrorRate*100))))

	lines = append(lines, c.formatBoxRow(
		"P95:     "+p.timing.Sprint(formatDurationShort(stats.LatencyP95)),
		"Checks:      "+p.rate(stats.CheckRate).Sprintf("%.1f%%", stats.CheckRate*100)))

	lines = append(lines, p.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow lays out two columns inside the stats box.
func (c *ConsoleOutput) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2
	border := c.colors.dim.Sprint(boxVertical)

	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border,
		left, pad(colWidth-visibleLen(left)),
		border,
		right, pad(colWidth-visibleLen(right)),
		border)
}

func pad(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(" ", n)
}

func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintNonInteractiveUpdate prints a one-line status, for output that is
// not a terminal (files, CI logs).
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s | Progress: %.0f%% | VUs: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | Checks: %.1f%% | P95: %s",
		formatDuration(stats.Elapsed),
		stats.CurrentPhase,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		stats.CheckRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final test summary.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	p := c.colors

	if c.quiet {
		if result.Passed {
			c.writeln(p.good.Sprint("PASSED"))
		} else {
			c.writeln(p.bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := p.title.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	status := p.good.Sprint("Completed ✓")
	if !result.Passed {
		status = p.bad.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(line)
	c.writeln(fmt.Sprintf("%s - %s", p.bold.Sprint(result.Name), status))
	c.writeln(line)
	c.writeln("")

	c.writeln("Duration:      " + p.value.Sprint(formatDuration(result.Duration)))
	if m := result.Metrics; m != nil {
		c.writeln("Total Reqs:    " + p.value.Sprint(formatNumber(m.TotalRequests)))
		c.writeln(fmt.Sprintf("Failed Reqs:   %s (%s)",
			p.rate(1-m.ErrorRate).Sprint(formatNumber(m.FailedRequests)),
			p.rate(1-m.ErrorRate).Sprintf("%.1f%%", m.ErrorRate*100)))
		c.writeln("RPS:           " + p.value.Sprintf("%.1f", m.RPS))
		c.writeln("Data Received: " + p.value.Sprint(formatBytes(m.TotalBytes)))
		c.writeln("")

		c.writeln(p.bold.Sprint("Latency Distribution:"))
		c.writeln("  Min:       " + formatDurationShort(m.Latency.Min))
		c.writeln("  Avg:       " + formatDurationShort(m.Latency.Mean))
		c.writeln("  P50:       " + formatDurationShort(m.Latency.P50))
		c.writeln("  P90:       " + formatDurationShort(m.Latency.P90))
		c.writeln("  P95:       " + formatDurationShort(m.Latency.P95))
		c.writeln("  P99:       " + formatDurationShort(m.Latency.P99))
		c.writeln("  Max:       " + formatDurationShort(m.Latency.Max))
		c.writeln("")
	}

	if len(result.Checks) > 0 {
		c.printChecks(result)
	}

	if len(result.Scenarios) > 0 {
		c.printScenarios(result.Scenarios)
	}

	if len(result.Thresholds) > 0 {
		c.writeln(p.bold.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", p.mark(t.Passed), t.Metric, t.Expression, t.Value))
			if !t.Passed && t.Message != "" {
				c.writeln("      " + p.dim.Sprint(t.Message))
			}
		}
		c.writeln("")
	}
}

// printChecks lists every check, with its pass ratio when any run failed.
func (c *ConsoleOutput) printChecks(result *engine.TestResult) {
	p := c.colors
	c.writeln(p.bold.Sprint("Checks:"))

	var passes, total int64
	for _, check := range result.Checks {
		passes += check.Passes
		total += check.Passes + check.Fails

		c.writeln(fmt.Sprintf("  %s %s", p.mark(check.Fails == 0), check.Name))
		if check.Fails > 0 {
			c.writeln(fmt.Sprintf("      ↳ %.0f%% | %s %d / %s %d",
				check.Rate()*100, p.mark(true), check.Passes, p.mark(false), check.Fails))
		}
	}

	rate := 1.0
	if result.Metrics != nil {
		rate = result.Metrics.CheckRate
	}
	c.writeln(fmt.Sprintf("  Rate:      %s (%s/%s)",
		p.rate(rate).Sprintf("%.1f%%", rate*100), formatNumber(passes), formatNumber(total)))
	c.writeln("")
}

func (c *ConsoleOutput) printScenarios(scenarios map[string]*engine.ScenarioResult) {
	p := c.colors
	c.writeln(p.bold.Sprint("Scenarios:"))

	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sr := scenarios[name]
		c.writeln(fmt.Sprintf("  %s [%s] iterations: %s, max VUs: %d, %s",
			p.bold.Sprint(sr.Name), sr.Executor, formatNumber(sr.Iterations), sr.MaxVUs, formatDuration(sr.Duration)))
		if sr.Error != "" {
			c.writeln("    " + p.bad.Sprint(sr.Error))
		}

		reqNames := make([]string, 0, len(sr.RequestStats))
		for reqName := range sr.RequestStats {
			reqNames = append(reqNames, reqName)
		}
		sort.Strings(reqNames)

		for _, reqName := range reqNames {
			rs := sr.RequestStats[reqName]
			c.writeln(fmt.Sprintf("    %-20s count: %s, avg: %s, p95: %s",
				rs.Name, formatNumber(rs.Count), formatDurationShort(rs.Latency.Mean), formatDurationShort(rs.Latency.P95)))
		}
	}
	c.writeln("")
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	}
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}

	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		b.WriteByte(s[i])
	}

	return b.String()
}

// StatsFromMetrics builds LiveStats from a metrics snapshot. A nil snapshot
// yields an "initializing" view.
func StatsFromMetrics(snapshot *metrics.Snapshot, progress float64, totalDuration time.Duration, targetVUs, currentStage, totalStages int) *LiveStats {
	if snapshot == nil {
		return &LiveStats{
			Progress:     progress,
			TargetVUs:    targetVUs,
			CheckRate:    1,
			CurrentStage: currentStage,
			TotalStages:  totalStages,
			CurrentPhase: "initializing",
		}
	}

	elapsed := snapshot.Elapsed
	var remaining time.Duration
	if progress > 0 && progress < 1 {
		remaining = time.Duration(float64(elapsed) * (1 - progress) / progress)
	} else if totalDuration > elapsed {
		remaining = totalDuration - elapsed
	}

	return &LiveStats{
		Progress:      progress,
		Elapsed:       elapsed,
		Remaining:     remaining,
		ActiveVUs:     snapshot.ActiveVUs,
		TargetVUs:     targetVUs,
		CurrentRPS:    snapshot.RPS,
		TotalRequests: snapshot.TotalRequests,
		Errors:        snapshot.FailedRequests,
		ErrorRate:     snapshot.ErrorRate,
		CheckRate:     snapshot.CheckRate,
		LatencyP95:    snapshot.Latency.P95,
		LatencyAvg:    snapshot.Latency.Mean,
		CurrentPhase:  string(snapshot.CurrentPhase),
		CurrentStage:  currentStage,
		TotalStages:   totalStages,
	}
}
