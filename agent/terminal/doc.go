// Package terminal is the interactive front end of ShellMind.
//
// A Terminal reads lines from its input and hands them to an agent.Agent.
// Plain text becomes a request; "/explain <command>" asks for an explanation
// (with no argument, of the last proposed command); exit and quit end the
// session. It implements agent.ProcessCallbacks: proposed commands are
// printed with their risk tier, confirmations are y/N prompts defaulting to
// no, and follow-up questions are asked one by one with their answers sent
// back as a single message.
//
//	term := terminal.New(terminal.Options{In: os.Stdin, Out: os.Stdout, Markdown: true})
//	a, err := agent.New(cfg, agent.Deps{..., Callbacks: term.Callbacks()})
//	if err != nil {
//	    // handle error
//	}
//	err = term.Run(ctx, a, initialQuery)
//
// Model prose is rendered with glamour when Markdown is set; colours come
// from a lipgloss renderer bound to the output, so piping the output yields
// plain text.
package terminal
