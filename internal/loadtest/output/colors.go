package output

import (
	"github.com/fatih/color"
)

// palette holds the colors of the console report.
type palette struct {
	title  *color.Color
	bold   *color.Color
	dim    *color.Color
	value  *color.Color
	good   *color.Color
	warn   *color.Color
	bad    *color.Color
	phase  *color.Color
	timing *color.Color
}

// newPalette returns the report colors. Colors are forced on or off so the
// result does not depend on the package-level color.NoColor guess.
func newPalette(enabled bool) *palette {
	p := &palette{
		title:  color.New(color.FgCyan),
		bold:   color.New(color.Bold),
		dim:    color.New(color.Faint),
		value:  color.New(color.FgCyan),
		good:   color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		bad:    color.New(color.FgRed),
		phase:  color.New(color.FgMagenta),
		timing: color.New(color.FgBlue),
	}

	for _, c := range []*color.Color{p.title, p.bold, p.dim, p.value, p.good, p.warn, p.bad, p.phase, p.timing} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// rate picks good, warn or bad for a success ratio.
func (p *palette) rate(ratio float64) *color.Color {
	switch {
	case ratio >= 0.99:
		return p.good
	case ratio >= 0.95:
		return p.warn
	default:
		return p.bad
	}
}

func (p *palette) mark(passed bool) string {
	if passed {
		return p.good.Sprint("✓")
	}
	return p.bad.Sprint("✗")
}
