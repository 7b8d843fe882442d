package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"ragterm/internal/domain"
	"ragterm/internal/service"
	"ragterm/internal/shell"
)

// PollInterval is how often the model reads fresh job snapshots.
const PollInterval = 100 * time.Millisecond

// Orchestrator is the TUI-facing subset of the pipeline orchestrator.
type Orchestrator interface {
	StartIndex(ctx context.Context) (uint64, error)
	StartQuery(ctx context.Context, text string) (uint64, error)
	Cancel(kind service.JobKind) bool
	Snapshot(kind service.JobKind) service.JobState
}

// Shell runs "!command" lines.
type Shell interface {
	Run(ctx context.Context, line string) (shell.Result, error)
}

// Options configure the model.
type Options struct {
	// IndexOnStart launches an index job as soon as the program starts.
	IndexOnStart bool
	// Banner is shown under the title, e.g. models and collection.
	Banner string
}

type tickMsg time.Time

type shellDoneMsg struct {
	res shell.Result
	err error
}

type pane int

const (
	paneAnswer pane = iota
	paneShell
)

// Model is the Bubble Tea model for the TUI application. It never blocks on
// pipeline work: jobs run in the orchestrator and the model polls their
// snapshots on every tick.
type Model struct {
	ctx   context.Context
	orch  Orchestrator
	shell Shell
	opts  Options

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	index service.JobState
	query service.JobState

	shellRes     *shell.Result
	shellErr     error
	shellRunning bool

	pane      pane
	cursor    int
	lastQuery string
	status    string
	ready     bool
	width     int
}

// New creates a new TUI model instance. ctx bounds every job the model starts.
func New(ctx context.Context, orch Orchestrator, sh Shell, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about your files, or !command to run a shell command"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = spinnerStyle
	return Model{
		ctx:      ctx,
		orch:     orch,
		shell:    sh,
		opts:     opts,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		index:    orch.Snapshot(service.KindIndex),
		query:    orch.Snapshot(service.KindQuery),
		status:   "Ready. Ctrl+R to index, Enter to ask.",
	}
}

func tick() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the cursor blink, the spinner, the snapshot poll and,
// optionally, the first index job.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, tick()}
	if m.opts.IndexOnStart {
		cmds = append(cmds, func() tea.Msg { return startIndexMsg{} })
	}
	return tea.Batch(cmds...)
}

type startIndexMsg struct{}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		rw, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 3 // title, banner, index line
		totalFooterLines := 2 // status, help
		reserved := totalHeaderLines + totalFooterLines + qh + 1
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width-rw)
		m.viewport.Height = max(3, vh-rh)
		m.refresh()
		return m, nil

	case tickMsg:
		m.poll()
		return m, tick()

	case startIndexMsg:
		m.startIndex()
		return m, nil

	case shellDoneMsg:
		m.shellRunning = false
		m.shellRes = &msg.res
		m.shellErr = msg.err
		m.pane = paneShell
		if msg.err != nil {
			m.status = "Command failed: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("Command exited %d in %s", msg.res.ExitCode, msg.res.Elapsed.Round(time.Millisecond))
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.orch.Cancel(service.KindIndex)
			m.orch.Cancel(service.KindQuery)
			return m, tea.Quit
		case tea.KeyCtrlR:
			m.startIndex()
			return m, nil
		case tea.KeyEsc:
			m.cancel()
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyDown:
			if n := len(m.hits()); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.pane = paneAnswer
				m.refresh()
				return m, nil
			}
		case tea.KeyUp:
			if n := len(m.hits()); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.pane = paneAnswer
				m.refresh()
				return m, nil
			}
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return *m, nil
	}

	if cmdline, ok := strings.CutPrefix(line, "!"); ok {
		if m.shellRunning {
			m.status = "A command is still running."
			return *m, nil
		}
		m.input.SetValue("")
		m.shellRunning = true
		m.status = "Running " + strings.TrimSpace(cmdline)
		sh, ctx := m.shell, m.ctx
		return *m, func() tea.Msg {
			res, err := sh.Run(ctx, cmdline)
			return shellDoneMsg{res: res, err: err}
		}
	}

	if _, err := m.orch.StartQuery(m.ctx, line); err != nil {
		m.status = startError("A question", err)
		return *m, nil
	}
	m.input.SetValue("")
	m.lastQuery = line
	m.cursor = 0
	m.pane = paneAnswer
	m.status = fmt.Sprintf("Asking %q", line)
	m.poll()
	return *m, nil
}

func (m *Model) startIndex() {
	if _, err := m.orch.StartIndex(m.ctx); err != nil {
		m.status = startError("An index job", err)
		return
	}
	m.status = "Indexing started. Esc cancels."
	m.poll()
}

// cancel stops the query first since it is the one the user waits on.
func (m *Model) cancel() {
	switch {
	case m.query.Running() && m.orch.Cancel(service.KindQuery):
		m.status = "Cancelling question..."
	case m.index.Running() && m.orch.Cancel(service.KindIndex):
		m.status = "Cancelling index..."
	default:
		m.status = "Nothing to cancel."
	}
}

func startError(what string, err error) string {
	if errors.Is(err, service.ErrAlreadyRunning) {
		return what + " is already running; Esc cancels it."
	}
	return "Error: " + err.Error()
}

// poll copies the latest snapshots and re-renders when anything moved.
func (m *Model) poll() {
	idx := m.orch.Snapshot(service.KindIndex)
	qry := m.orch.Snapshot(service.KindQuery)
	changed := !sameState(idx, m.index) || !sameState(qry, m.query)
	if qry.ID != m.query.ID {
		m.cursor = 0
	}
	if justFinished(qry, m.query) {
		m.status = finishedStatus(qry)
	}
	if justFinished(idx, m.index) {
		m.status = finishedStatus(idx)
	}
	m.index, m.query = idx, qry
	if changed {
		m.refresh()
	}
}

func justFinished(now, before service.JobState) bool {
	return now.Phase.Terminal() && (now.ID != before.ID || !before.Phase.Terminal())
}

func sameState(a, b service.JobState) bool {
	return a.ID == b.ID && a.Phase == b.Phase && a.Stage == b.Stage && a.Progress == b.Progress
}

func (m Model) hits() []domain.SearchResult {
	if m.query.Answer == nil {
		return nil
	}
	return m.query.Answer.Hits
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderContent())
}
