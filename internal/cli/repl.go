package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/harun/parley/pkg/chat"
	"github.com/harun/parley/pkg/session"
	"github.com/rs/zerolog/log"
)

const cursor = "▌"

// REPLConfig wires a REPL to its input, output and orchestrator
type REPLConfig struct {
	Orchestrator *chat.Orchestrator
	In           io.Reader
	Out          io.Writer

	// Persistence is the transcript driver name; empty or "none" when disabled.
	Persistence string

	// Renderer formats the home, settings and help views. Nil prints raw markdown.
	Renderer *glamour.TermRenderer
}

// REPL reads lines, runs slash commands and submits everything else as a chat turn.
type REPL struct {
	orch        *chat.Orchestrator
	in          io.Reader
	out         io.Writer
	persistence string
	renderer    *glamour.TermRenderer
	view        string
}

// NewREPL creates a REPL
func NewREPL(cfg REPLConfig) *REPL {
	return &REPL{
		orch:        cfg.Orchestrator,
		in:          cfg.In,
		out:         cfg.Out,
		persistence: cfg.Persistence,
		renderer:    cfg.Renderer,
		view:        viewHome,
	}
}

// Run starts on the home view and returns at /quit, end of input, or when ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	if !persistenceEnabled(r.persistence) {
		r.printf("Notice: no transcript database available, messages will not be saved.\n")
	}
	r.showHome()
	r.orch.Ready()

	for {
		r.prompt()
		select {
		case <-ctx.Done():
			r.printf("\n")
			return nil
		case err := <-readErr:
			r.printf("\n")
			return err
		case line := <-lines:
			if r.Handle(ctx, line) {
				return nil
			}
		}
	}
}

// Handle processes one input line and reports whether the REPL should stop.
func (r *REPL) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "/") {
		return r.command(line)
	}
	r.send(ctx, line)
	return false
}

func (r *REPL) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/exit":
		return true
	case "/help":
		r.printf("%s", renderMarkdown(r.renderer, helpMarkdown))
	case "/home":
		r.showHome()
	case "/chat":
		r.showChat()
	case "/settings":
		r.view = viewSettings
		r.printf("%s", renderMarkdown(r.renderer, settingsMarkdown(r.orch, r.persistence)))
	case "/models":
		r.listModels()
	case "/model":
		r.selectModel(arg)
	case "/name":
		r.rename(arg)
	case "/clear":
		r.orch.Clear()
		r.orch.Ready()
		r.printf("Conversation cleared.\n")
	case "/export":
		r.export(arg)
	default:
		r.printf("Unknown command %s. Type /help for the list.\n", name)
	}
	return false
}

func (r *REPL) send(ctx context.Context, text string) {
	r.view = viewChat

	printer := &streamPrinter{out: r.out}
	r.printf("%s: ", r.orch.SelectedModel().Label)
	result, err := r.orch.Submit(ctx, text, printer)
	defer r.orch.Ready()
	if err != nil {
		// Already reported through the sink.
		return
	}
	printer.finish()
	if result.Reply == nil {
		r.printf("(no reply)\n")
	}
}

func (r *REPL) showHome() {
	r.view = viewHome
	r.printf("%s", renderMarkdown(r.renderer, homeMarkdown(r.orch, r.persistence)))
}

func (r *REPL) showChat() {
	r.view = viewChat
	history := r.orch.Session().History()
	if len(history) == 0 {
		r.printf("No messages yet. Type something to start.\n")
		return
	}
	name := r.orch.Session().DisplayName()
	for _, m := range history {
		author := chat.AssistantAuthor
		if m.Role == session.RoleUser {
			author = name
		}
		r.printf("%s: %s\n", author, m.Content)
	}
}

func (r *REPL) listModels() {
	selected := r.orch.SelectedModel().Label
	for i, m := range r.orch.Catalog().Models() {
		marker := " "
		if m.Label == selected {
			marker = "*"
		}
		r.printf("%s %d. %s (%s)\n", marker, i+1, m.Label, m.ID)
	}
}

func (r *REPL) selectModel(choice string) {
	if choice == "" {
		r.listModels()
		return
	}
	m, err := r.orch.Catalog().Find(choice)
	if err != nil {
		r.printf("Unknown model %q. Type /models for the list.\n", choice)
		return
	}
	if err := r.orch.SelectModel(m.Label); err != nil {
		r.printf("Error: %v\n", err)
		return
	}
	r.printf("Model set to %s.\n", m.Label)
}

func (r *REPL) rename(name string) {
	if !r.orch.Session().SetDisplayName(name) {
		r.printf("Usage: /name <display name>\n")
		return
	}
	r.printf("You are now %s.\n", r.orch.Session().DisplayName())
}

func (r *REPL) export(path string) {
	if path == "" {
		path = "parley-" + r.orch.Session().ID() + ".jsonl"
	}
	f, err := os.Create(path)
	if err != nil {
		r.printf("Export failed: %v\n", err)
		return
	}
	defer f.Close()

	n, err := r.orch.Session().Export(f)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Export failed")
		r.printf("Export failed: %v\n", err)
		return
	}
	r.printf("Exported %d messages to %s.\n", n, path)
}

func (r *REPL) prompt() {
	if r.view == viewChat {
		r.printf("%s> ", r.orch.Session().DisplayName())
		return
	}
	r.printf("> ")
}

func (r *REPL) printf(format string, a ...interface{}) {
	fmt.Fprintf(r.out, format, a...)
}

// streamPrinter writes fragments as they arrive with a trailing cursor that
// is erased once the reply is complete.
type streamPrinter struct {
	out     io.Writer
	started bool
}

func (p *streamPrinter) OnFragment(text string) {
	if p.started {
		io.WriteString(p.out, "\b")
	}
	p.started = true
	io.WriteString(p.out, text+cursor)
}

func (p *streamPrinter) OnError(err error) {
	p.finish()
	if errors.Is(err, chat.ErrAborted) {
		io.WriteString(p.out, "[response stopped]\n")
		return
	}
	fmt.Fprintf(p.out, "\nError: %v\n", err)
}

func (p *streamPrinter) finish() {
	if !p.started {
		return
	}
	p.started = false
	io.WriteString(p.out, "\b \b\n")
}
