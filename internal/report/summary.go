// Package report renders matrix outcomes: a styled terminal summary and a
// canonical, byte-stable JSON report.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"envmatrix/internal/env"
	"envmatrix/internal/matrix"
)

var (
	passedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skippedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	upToDateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	envNameStyle  = lipgloss.NewStyle().Bold(true)
	faintStyle    = lipgloss.NewStyle().Faint(true)
)

// SummaryOptions controls rendering.
type SummaryOptions struct {
	// Plain disables all styling (no TTY, --no-color).
	Plain bool
}

// Summary renders the per-environment result lines and a final verdict.
//
// Environments appear in the order they were selected, one line each:
// status, name, duration, and for failures the failing command with its
// captured stderr.
func Summary(res *matrix.Result, order []string, opts SummaryOptions) string {
	var b strings.Builder

	names := append([]string(nil), order...)
	if len(names) == 0 {
		for name := range res.FinalState {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	for _, name := range names {
		st, ok := res.FinalState[name]
		if !ok {
			continue
		}
		b.WriteString(summaryLine(res, name, st, opts))
		b.WriteByte('\n')
	}

	b.WriteString(verdict(res, opts))
	b.WriteByte('\n')
	return b.String()
}

func summaryLine(res *matrix.Result, name string, st matrix.EnvState, opts SummaryOptions) string {
	glyph, style := statusGlyph(st)
	label := string(st)

	var detail string
	if r := res.Results[name]; r != nil {
		switch {
		case r.UpToDate:
			detail = "up to date"
		case r.Failed():
			step := failingStep(r)
			detail = fmt.Sprintf("exit %d after %d step(s)", r.ExitCode, len(r.Steps))
			if step != "" {
				detail += " (" + step + ")"
			}
		default:
			detail = fmt.Sprintf("%d step(s) in %s", len(r.Steps), r.Duration.Round(time.Millisecond))
		}
	}

	if opts.Plain {
		if detail != "" {
			return fmt.Sprintf("%s %s: %s - %s", glyph, name, label, detail)
		}
		return fmt.Sprintf("%s %s: %s", glyph, name, label)
	}

	line := style.Render(glyph) + " " + envNameStyle.Render(name) + ": " + style.Render(label)
	if detail != "" {
		line += " " + faintStyle.Render("- "+detail)
	}
	return line
}

func statusGlyph(st matrix.EnvState) (string, lipgloss.Style) {
	switch st {
	case matrix.EnvPassed:
		return "✔", passedStyle
	case matrix.EnvFailed:
		return "✖", failedStyle
	case matrix.EnvSkipped:
		return "↷", skippedStyle
	case matrix.EnvUpToDate:
		return "≡", upToDateStyle
	default:
		return "•", faintStyle
	}
}

func failingStep(r *env.Result) string {
	for _, step := range r.Steps {
		if step.ExitCode != 0 && !step.Ignored {
			return step.Command
		}
	}
	return ""
}

func verdict(res *matrix.Result, opts SummaryOptions) string {
	if !res.Failed() {
		msg := "congratulations :) all environments passed"
		if opts.Plain {
			return msg
		}
		return passedStyle.Render(msg)
	}

	failed := res.FailedEnvs()
	msg := fmt.Sprintf("evaluation failed :( (%s)", strings.Join(failed, ", "))
	if opts.Plain {
		return msg
	}
	return failedStyle.Render(msg)
}

// FailureDetail renders the failing step's command and captured stderr for
// each failed environment, for printing after the summary.
func FailureDetail(res *matrix.Result, opts SummaryOptions) string {
	var b strings.Builder
	for _, name := range res.FailedEnvs() {
		r := res.Results[name]
		if r == nil {
			continue
		}
		for _, step := range r.Steps {
			if step.ExitCode == 0 || step.Ignored {
				continue
			}
			header := fmt.Sprintf("%s: %q exited %d", name, step.Command, step.ExitCode)
			if opts.Plain {
				b.WriteString(header)
			} else {
				b.WriteString(failedStyle.Render(header))
			}
			b.WriteByte('\n')
			if out := strings.TrimSpace(string(step.Stdout)); out != "" {
				b.WriteString(out)
				b.WriteByte('\n')
			}
			if errOut := strings.TrimSpace(string(step.Stderr)); errOut != "" {
				b.WriteString(errOut)
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}
