package cli

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/harun/parley/pkg/chat"
	"github.com/rs/zerolog/log"
)

const (
	viewHome     = "home"
	viewChat     = "chat"
	viewSettings = "settings"
)

// newRenderer returns a markdown renderer for the views, or nil when the
// terminal style cannot be loaded; views then print raw markdown.
func newRenderer() *glamour.TermRenderer {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		log.Debug().Err(err).Msg("Markdown renderer unavailable")
		return nil
	}
	return renderer
}

func renderMarkdown(renderer *glamour.TermRenderer, md string) string {
	if renderer == nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}

func persistenceEnabled(driver string) bool {
	return driver != "" && driver != "none"
}

func persistenceStatus(driver string) string {
	if !persistenceEnabled(driver) {
		return "transcript not saved"
	}
	return "transcript saved (" + driver + ")"
}

func homeMarkdown(orch *chat.Orchestrator, driver string) string {
	stats := orch.Session().Stats()

	var b strings.Builder
	b.WriteString("# Parley\n\n")
	fmt.Fprintf(&b, "Hello, **%s**.\n\n", stats.DisplayName)
	b.WriteString("## Statistics\n\n")
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Messages sent | %d |\n", stats.UserMessages)
	fmt.Fprintf(&b, "| Current model | %s |\n", orch.SelectedModel().Label)
	fmt.Fprintf(&b, "| Version | %s |\n", version)
	fmt.Fprintf(&b, "| Status | %s |\n\n", persistenceStatus(driver))
	b.WriteString("## How to start\n\n")
	b.WriteString("1. Pick a model with `/model <name or number>` (see `/models`).\n")
	b.WriteString("2. Type a message and press Enter.\n")
	b.WriteString("3. Watch the reply stream in. Ctrl-C stops it.\n\n")
	b.WriteString("Type `/help` for every command.\n")
	return b.String()
}

func settingsMarkdown(orch *chat.Orchestrator, driver string) string {
	stats := orch.Session().Stats()
	model := orch.SelectedModel()

	var b strings.Builder
	b.WriteString("# Settings\n\n")
	fmt.Fprintf(&b, "- **Display name:** %s\n", stats.DisplayName)
	fmt.Fprintf(&b, "- **Total messages:** %d (%d sent)\n", stats.Messages, stats.UserMessages)
	fmt.Fprintf(&b, "- **Provider:** %s\n", orch.Provider())
	fmt.Fprintf(&b, "- **Model:** %s (`%s`)\n", model.Label, model.ID)
	fmt.Fprintf(&b, "- **Persistence:** %s\n", persistenceStatus(driver))
	if persistenceEnabled(driver) {
		fmt.Fprintf(&b, "- **Pending writes:** %d\n", orch.PendingWrites())
	}
	b.WriteString("\n")
	b.WriteString("## System\n\n")
	fmt.Fprintf(&b, "- **Version:** %s\n", version)
	fmt.Fprintf(&b, "- **Go:** %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "- **Session:** `%s`\n", orch.Session().ID())
	fmt.Fprintf(&b, "- **Started:** %s\n", stats.CreatedAt.Format(time.RFC1123))
	return b.String()
}

const helpMarkdown = `# Commands

| Command | Action |
|---|---|
| ` + "`/home`" + ` | statistics and getting started |
| ` + "`/chat`" + ` | show the conversation |
| ` + "`/settings`" + ` | session and system information |
| ` + "`/models`" + ` | list the available models |
| ` + "`/model <name or number>`" + ` | switch model |
| ` + "`/name <display name>`" + ` | change your display name |
| ` + "`/clear`" + ` | clear the conversation |
| ` + "`/export <file>`" + ` | write the conversation as JSON lines |
| ` + "`/quit`" + ` | leave |

Anything else is sent to the model.
`
