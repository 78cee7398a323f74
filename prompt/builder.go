// Package prompt turns a session into the payload sent to a language model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
)

// DefaultWindow is the number of trailing turns sent when the configuration
// does not say otherwise.
const DefaultWindow = 20

// Payload is everything a provider needs for one completion.
type Payload struct {
	Mode   session.Mode
	System string
	Tools  []tools.Spec
	Turns  []session.Turn
}

// Builder assembles payloads. The environment summary is captured once when
// the builder is created and reused for every request of the session.
type Builder struct {
	env    string
	window int
}

func NewBuilder(envSummary string, window int) *Builder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Builder{env: strings.TrimSpace(envSummary), window: window}
}

func (b *Builder) Window() int { return b.window }

// Build returns the payload for the next reasoning step of sess. Tools are
// only offered in agent mode.
func (b *Builder) Build(sess *session.AgentSession, mode session.Mode, catalog []tools.Spec) Payload {
	if mode == session.ModeExplain {
		if last, ok := sess.Memory.Last(isUserMessage); ok {
			return b.BuildExplain(last.Content)
		}
		return b.BuildExplain("")
	}

	p := Payload{
		Mode:   mode,
		System: b.system(mode, catalog),
		Turns:  pinRequest(sess, trimOrphans(sess.Memory.Window(b.window))),
	}
	if mode == session.ModeAgent && len(catalog) > 0 {
		p.Tools = append([]tools.Spec(nil), catalog...)
	}
	return p
}

// BuildExplain returns a payload that asks for an explanation of command and
// nothing else.
func (b *Builder) BuildExplain(command string) Payload {
	return Payload{
		Mode:   session.ModeExplain,
		System: explainPrompt,
		Turns: []session.Turn{{
			Role:    session.RoleUser,
			Kind:    session.KindMessage,
			Content: "Explain this command:\n" + strings.TrimSpace(command),
		}},
	}
}

// trimOrphans drops tool results at the head of the window whose requesting
// assistant turn has already scrolled out, along with confirmations of
// those calls.
func trimOrphans(turns []session.Turn) []session.Turn {
	i := 0
	for i < len(turns) && (turns[i].Role == session.RoleTool || turns[i].Kind == session.KindConfirmation) {
		i++
	}
	return turns[i:]
}

// pinRequest puts the latest user message back at the head of turns when
// a long tool round has pushed it out of the window.
func pinRequest(sess *session.AgentSession, turns []session.Turn) []session.Turn {
	for _, t := range turns {
		if isUserMessage(t) {
			return turns
		}
	}
	last, ok := sess.Memory.Last(isUserMessage)
	if !ok {
		return turns
	}
	return append([]session.Turn{last}, turns...)
}

func isUserMessage(t session.Turn) bool {
	return t.Role == session.RoleUser && t.Kind == session.KindMessage
}

func (b *Builder) system(mode session.Mode, catalog []tools.Spec) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	if mode == session.ModeAgent && len(catalog) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(agentPrompt)
		sb.WriteString("\nAvailable tools:\n")
		for _, spec := range catalog {
			fmt.Fprintf(&sb, "- %s: %s\n", spec.Name, spec.Description)
		}
	}
	sb.WriteString("\n\n")
	sb.WriteString(contractPrompt)
	if b.env != "" {
		sb.WriteString("\n\nEnvironment of the user:\n")
		sb.WriteString(b.env)
	}
	return sb.String()
}
