package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/answer"
	"docqa/internal/domain"
	"docqa/internal/service"
)

// Port is the TUI-facing subset of the application service.
type Port interface {
	Ask(ctx context.Context, question string) (*answer.Answer, error)
	Search(ctx context.Context, query string, k int, threshold float64) ([]domain.Result, error)
	Summarize(ctx context.Context, kind string) (*answer.Summary, error)
	Statistics(ctx context.Context) (service.Stats, error)
}

type mode int

const (
	modeAsk mode = iota
	modeSearch
)

func (m mode) String() string {
	if m == modeSearch {
		return "search"
	}
	return "ask"
}

// messages delivered by the commands below
type (
	answerMsg  struct{ answer *answer.Answer }
	resultsMsg struct {
		query   string
		results []domain.Result
	}
	summaryMsg struct{ summary *answer.Summary }
	statsMsg   struct{ stats service.Stats }
	errMsg     struct{ err error }
)

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx      context.Context
	service  Port
	input    textinput.Model
	viewport viewport.Model
	mode     mode
	answer   *answer.Answer
	results  []domain.Result
	summary  string
	status   string
	cursor   int
	ready    bool
	busy     bool
	last     string
}

// New creates a new TUI model instance. summary is shown under the header.
func New(ctx context.Context, service Port, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or /summary, /stats"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		service:  service,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Loaded. Tab switches between ask and search.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and result events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.busy = false
		m.answer, m.results, m.cursor = msg.answer, nil, 0
		m.status = fmt.Sprintf("Answered by %s from %d source(s)", msg.answer.Generator, len(msg.answer.Sources))
		if !msg.answer.ContextUsed {
			m.status = "No relevant context found"
		}
		m.refresh()
		return m, nil

	case resultsMsg:
		m.busy = false
		m.answer, m.results, m.cursor = nil, msg.results, 0
		m.status = fmt.Sprintf("%d result(s) for %q", len(msg.results), msg.query)
		m.refresh()
		return m, nil

	case summaryMsg:
		m.busy = false
		m.answer, m.results = nil, nil
		m.status = fmt.Sprintf("%s summary of %d document(s)", msg.summary.Kind, len(msg.summary.Documents))
		m.viewport.SetContent(msg.summary.Text)
		return m, nil

	case statsMsg:
		m.busy = false
		st := msg.stats
		m.status = fmt.Sprintf("%d documents, %d chunks, dim %d, embedder %s, generators %s",
			st.Documents, st.Chunks, st.Dimension, st.Embedder, strings.Join(st.Generators, ","))
		return m, nil

	case errMsg:
		m.busy = false
		m.status = "Error: " + msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "tab":
			if m.mode == modeAsk {
				m.mode = modeSearch
			} else {
				m.mode = modeAsk
			}
			m.status = "Mode: " + m.mode.String()
			return m, nil
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			m.busy = true
			m.last = q
			m.status = "Working..."
			return m, m.run(q)
		case "down":
			if n := m.items(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.refresh()
				return m, nil
			}
		case "up":
			if n := m.items(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.refresh()
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// run turns a line of input into a command for the current mode.
func (m Model) run(line string) tea.Cmd {
	ctx, svc := m.ctx, m.service
	if kind, ok := strings.CutPrefix(line, "/summary"); ok {
		kind = strings.TrimSpace(kind)
		return func() tea.Msg {
			s, err := svc.Summarize(ctx, kind)
			if err != nil {
				return errMsg{err}
			}
			return summaryMsg{s}
		}
	}
	if line == "/stats" {
		return func() tea.Msg {
			st, err := svc.Statistics(ctx)
			if err != nil {
				return errMsg{err}
			}
			return statsMsg{st}
		}
	}
	if m.mode == modeSearch {
		return func() tea.Msg {
			res, err := svc.Search(ctx, line, 0, -1)
			if err != nil {
				return errMsg{err}
			}
			return resultsMsg{query: line, results: res}
		}
	}
	return func() tea.Msg {
		a, err := svc.Ask(ctx, line)
		if err != nil {
			return errMsg{err}
		}
		return answerMsg{a}
	}
}

func (m Model) items() int {
	if m.answer != nil {
		return len(m.answer.Sources)
	}
	return len(m.results)
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.render())
	m.viewport.GotoTop()
}

// View renders the TUI layout and current answer or result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document Q&A") +
		modeStyle.Render(" ["+m.mode.String()+"]")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) render() string {
	if m.answer != nil {
		return m.renderAnswer()
	}
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  %s#%d  similarity=%.3f",
		m.cursor+1, len(m.results), r.Chunk.DocumentID, r.Chunk.Index, r.Similarity)
	return title + "\n\n" + highlightBestSentence(r.Chunk.Text, m.last)
}

func (m Model) renderAnswer() string {
	a := m.answer
	out := answerStyle.Render(a.Text)
	if len(a.Sources) == 0 {
		return out
	}
	src := a.Sources[m.cursor]
	title := fmt.Sprintf("Source %d/%d  %s#%d  similarity=%.3f",
		m.cursor+1, len(a.Sources), src.DocumentID, src.ChunkIndex, src.Similarity)
	return out + "\n\n" + title + "\n\n" + highlightBestSentence(src.Text, a.Question)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	modeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
