package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ragterm/internal/domain"
	"ragterm/internal/prompt"
	"ragterm/internal/service"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noteStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Italic(true)
	selectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

const helpLine = "Enter ask · !cmd shell · Ctrl+R index · Esc cancel · ↑/↓ sources · PgUp/PgDn scroll · Ctrl+C quit"

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render("ragterm")
	banner := dimStyle.Render(m.opts.Banner)
	indexLine := m.jobLine("Index", m.index)
	results := resultBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	help := dimStyle.Render(helpLine)
	return strings.Join([]string{header, banner, indexLine, results, input, status, help}, "\n")
}

func (m Model) jobLine(label string, st service.JobState) string {
	line := label + ": " + describeJob(st)
	if st.Running() {
		return m.spinner.View() + " " + line
	}
	if st.Phase == service.PhaseFailed {
		return errorStyle.Render(line)
	}
	return line
}

// describeJob renders one line of job progress.
func describeJob(st service.JobState) string {
	switch st.Phase {
	case service.PhaseIdle:
		return "idle"
	case service.PhaseRunning:
		s := string(st.Stage)
		if st.Stage == "" {
			s = "starting"
		}
		if st.Progress.Total > 0 {
			s += fmt.Sprintf(" %d/%d", st.Progress.Done, st.Progress.Total)
		}
		if st.Progress.Files > 0 {
			s += fmt.Sprintf(" · %d files", st.Progress.Files)
		}
		return s
	case service.PhaseSucceeded:
		if r := st.Index; r != nil {
			return fmt.Sprintf("%d files, %d chunks indexed in %s (%d skipped)",
				r.Documents, r.Records, r.Elapsed.Round(time.Millisecond), len(r.Warnings))
		}
		return "done in " + st.FinishedAt.Sub(st.StartedAt).Round(time.Millisecond).String()
	case service.PhaseFailed:
		if errors.Is(st.Err, domain.ErrCancelled) {
			return fmt.Sprintf("cancelled during %s", st.Stage)
		}
		return fmt.Sprintf("failed during %s: %v", st.Stage, st.Err)
	}
	return st.Phase.String()
}

func finishedStatus(st service.JobState) string {
	what := "Question"
	if st.Kind == service.KindIndex {
		what = "Index"
	}
	return what + " " + describeJob(st)
}

// renderContent fills the result viewport.
func (m Model) renderContent() string {
	if m.pane == paneShell && m.shellRes != nil {
		return renderShell(m)
	}

	q := m.query
	switch q.Phase {
	case service.PhaseIdle:
		return m.renderIdle()
	case service.PhaseRunning:
		return fmt.Sprintf("%s\n\n%s", titleStyle.Render("Q: "+m.lastQuery), describeJob(q)+"...")
	case service.PhaseFailed:
		return fmt.Sprintf("%s\n\n%s", titleStyle.Render("Q: "+m.lastQuery), errorStyle.Render(describeJob(q)))
	}
	if q.Answer == nil {
		return ""
	}
	return renderAnswer(*q.Answer, m.lastQuery, m.cursor, m.viewport.Width)
}

func (m Model) renderIdle() string {
	var b strings.Builder
	b.WriteString("Press Ctrl+R to index your files, then type a question and press Enter.\n")
	b.WriteString("Prefix a line with ! to run it in your shell.\n")
	if r := m.index.Index; r != nil && m.index.Phase == service.PhaseSucceeded {
		if r.Digest != "" {
			b.WriteString("\n" + titleStyle.Render("Corpus digest") + "\n" + r.Digest + "\n")
		}
		if len(r.Terms) > 0 {
			b.WriteString(dimStyle.Render("Top terms: "+strings.Join(r.Terms, ", ")) + "\n")
		}
		for _, w := range r.Warnings {
			b.WriteString(dimStyle.Render("skipped "+w) + "\n")
		}
	}
	return b.String()
}

func renderAnswer(a service.Answer, query string, cursor, width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Q: " + query))
	b.WriteString("\n\n")
	b.WriteString(wrap(a.Text, width))
	b.WriteString("\n")
	if a.Note != "" {
		b.WriteString("\n" + noteStyle.Render(a.Note) + "\n")
	}
	if len(a.Hits) == 0 {
		if a.NoContext {
			b.WriteString(dimStyle.Render(prompt.NoContextMarker))
		}
		return b.String()
	}

	b.WriteString("\n" + titleStyle.Render("Sources") + "\n")
	for i, h := range a.Hits {
		line := fmt.Sprintf("[%d] %s (chunk %d)  score=%.3f", i+1, h.Chunk.Path, h.Chunk.Ordinal, h.Score)
		if i == cursor {
			line = selectedStyle.Render("› " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	if cursor >= 0 && cursor < len(a.Hits) {
		sel := a.Hits[cursor]
		b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("%s, chunk %d", sel.Chunk.Path, sel.Chunk.Ordinal)) + "\n")
		b.WriteString(highlightBestSentence(sel.Chunk.Text, query))
	}
	return b.String()
}

func renderShell(m Model) string {
	res := m.shellRes
	var b strings.Builder
	b.WriteString(titleStyle.Render("$ " + res.Command))
	b.WriteString("\n\n")
	b.WriteString(res.Output)
	if !strings.HasSuffix(res.Output, "\n") && res.Output != "" {
		b.WriteString("\n")
	}
	if res.Truncated {
		b.WriteString(dimStyle.Render("[output truncated]") + "\n")
	}
	if m.shellErr != nil {
		b.WriteString(errorStyle.Render(m.shellErr.Error()))
	} else {
		b.WriteString(dimStyle.Render(fmt.Sprintf("[exit %d]", res.ExitCode)))
	}
	return b.String()
}

func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}
