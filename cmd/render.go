package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/crewchat/internal/client"
	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

// Persona colors are stored as web utility classes; map them to terminal colors.
var personaColors = map[string]lipgloss.Color{
	"bg-purple-500": lipgloss.Color("#A855F7"),
	"bg-green-500":  lipgloss.Color("#22C55E"),
	"bg-blue-500":   lipgloss.Color("#3B82F6"),
	"bg-orange-500": lipgloss.Color("#F97316"),
	"bg-red-500":    lipgloss.Color("#EF4444"),
}

var (
	userStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#CCCCCC"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#696969"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	fallbackColor = lipgloss.Color("#54A0FF")
)

// transcriptRenderer prints new messages and workflow transitions as
// session snapshots arrive. Snapshots come from several goroutines.
type transcriptRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	markdown *glamour.TermRenderer

	conversationID string
	printed        map[string]bool
	lastWorkflow   string
	loading        bool
}

func newTranscriptRenderer(out io.Writer) *transcriptRenderer {
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		md = nil
	}
	return &transcriptRenderer{
		out:      out,
		markdown: md,
		printed:  make(map[string]bool),
	}
}

// Render prints whatever snap adds over the previous snapshot.
func (r *transcriptRenderer) Render(snap client.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.ConversationID != r.conversationID {
		r.conversationID = snap.ConversationID
		r.printed = make(map[string]bool)
		r.lastWorkflow = ""
		if snap.ConversationID != "" {
			r.printf("%s\n", dimStyle.Render("conversation "+snap.ConversationID))
		}
	}

	for _, m := range snap.Messages {
		if r.printed[m.ID] {
			continue
		}
		r.printed[m.ID] = true
		if m.Sender == domain.SenderUser {
			// Echoed by the terminal already.
			continue
		}
		r.printMessage(m)
	}

	if snap.Workflow != nil {
		if line := workflowLine(*snap.Workflow); line != r.lastWorkflow {
			r.lastWorkflow = line
			r.printf("%s\n", dimStyle.Render(line))
		}
	}

	if snap.IsLoading && !r.loading {
		r.printf("%s\n", dimStyle.Render("thinking..."))
	}
	r.loading = snap.IsLoading
}

// Error prints a failed send.
func (r *transcriptRenderer) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("%s\n", errorStyle.Render(err.Error()))
}

func (r *transcriptRenderer) printMessage(m domain.Message) {
	color, ok := personaColors[m.PersonaColor]
	if !ok {
		color = fallbackColor
	}
	name := lipgloss.NewStyle().Bold(true).Foreground(color).Render(strings.TrimSpace(m.PersonaAvatar + " " + m.PersonaName))
	r.printf("%s\n", name)

	body := m.Content
	if m.Kind == domain.KindCode && r.markdown != nil {
		if rendered, err := r.markdown.Render(m.Content); err == nil {
			body = strings.TrimRight(rendered, "\n")
		}
	}
	r.printf("%s\n\n", body)
}

func (r *transcriptRenderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// workflowLine summarizes a workflow, e.g. "[40%] step 2/5 Sam: in-progress".
func workflowLine(w domain.Workflow) string {
	if len(w.Steps) == 0 || w.CurrentStep < 0 || w.CurrentStep >= len(w.Steps) {
		return fmt.Sprintf("[%d%%] %s", w.Progress, w.Status)
	}
	step := w.Steps[w.CurrentStep]
	return fmt.Sprintf("[%d%%] step %d/%d %s: %s", w.Progress, w.CurrentStep+1, len(w.Steps), step.PersonaName, step.Status)
}

// Prompt prints the input label.
func (r *transcriptRenderer) Prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("%s", userStyle.Render("you> "))
}
