package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"

	"github.com/m4xw311/shellmind/agent"
	"github.com/m4xw311/shellmind/agent/terminal"
	"github.com/m4xw311/shellmind/config"
	"github.com/m4xw311/shellmind/errors"
	"github.com/m4xw311/shellmind/llm"
	"github.com/m4xw311/shellmind/observability"
	"github.com/m4xw311/shellmind/prompt"
	"github.com/m4xw311/shellmind/safety"
	"github.com/m4xw311/shellmind/session"
	"github.com/m4xw311/shellmind/tools"
	"github.com/m4xw311/shellmind/tools/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// app holds what the command needs from the process, so tests can replace it.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	// prefsPath overrides ~/.shellmind/preferences.yaml.
	prefsPath string
	// tty enables markdown rendering.
	tty bool
}

type flags struct {
	configFile string
	explain    bool
	execute    bool
	agentMode  bool
	setMode    string
}

// exitStatus is returned when a one-shot query ran a command that failed,
// so the process can exit with the same code.
type exitStatus int

func (e exitStatus) Error() string {
	return fmt.Sprintf("command exited with status %d", int(e))
}

func main() {
	a := &app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr, tty: isTerminal(os.Stdout)}
	if err := newRootCmd(a).Execute(); err != nil {
		var status exitStatus
		if errors.As(err, &status) {
			os.Exit(int(status))
		}
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "shellmind [query...]",
		Short: "Turns plain-language requests into shell commands and runs them with your approval.",
		Long: "ShellMind translates what you ask for into shell commands, explains commands you give it,\n" +
			"and in agent mode works through multi-step tasks with web search and read-only tools.\n" +
			"Every command is risk-classified; dangerous ones always need your confirmation.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), f, args)
		},
	}
	cmd.SetIn(a.in)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)
	cmd.SetVersionTemplate("shellmind {{.Version}}\n")
	// Flags end at the first word of the query, so "ls -la" stays intact.
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "config file (default: ~/.shellmind/config.yaml merged with ./.shellmind/config.yaml)")
	cmd.Flags().BoolVarP(&f.explain, "explain", "e", false, "explain the given command instead of generating one")
	cmd.Flags().BoolVarP(&f.execute, "execute", "x", false, "run safe and caution commands without asking")
	cmd.Flags().BoolVarP(&f.agentMode, "agent", "a", false, "use agent mode for this run")
	cmd.Flags().StringVar(&f.setMode, "set-mode", "", "persist the default mode (default or agent) and exit")
	return cmd
}

func (a *app) preferences() (*config.Preferences, error) {
	path := a.prefsPath
	if path == "" {
		p, err := config.DefaultPreferencesPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.LoadPreferences(path), nil
}

func (a *app) run(ctx context.Context, f *flags, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	prefs, err := a.preferences()
	if err != nil {
		return err
	}
	if f.setMode != "" {
		if err := prefs.SetMode(f.setMode); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Default mode set to %s.\n", f.setMode)
		return nil
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(config.LoadOptions{ConfigFile: f.configFile})
	if err != nil {
		return err
	}
	observability.Initialize(cfg.Log, zapcore.AddSync(a.errOut))
	defer observability.Sync()
	logger := observability.GetLogger()

	mode := session.ModeDefault
	switch {
	case f.explain:
		mode = session.ModeExplain
	case f.agentMode || prefs.AgentMode():
		mode = session.ModeAgent
	}
	logger.Info("starting", zap.String("version", Version), zap.String("mode", string(mode)),
		zap.String("provider", cfg.LLM.Provider), zap.String("model", cfg.LLM.Model))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	deps, cleanup, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	term := terminal.New(terminal.Options{In: a.in, Out: a.out, Markdown: a.tty, WordWrap: 100})
	deps.Callbacks = term.Callbacks()
	eng, err := agent.New(agent.Config{
		Mode:            mode,
		MaxSteps:        cfg.Agent.MaxSteps,
		ToolConcurrency: cfg.Agent.ToolConcurrency,
		MaxAttempts:     cfg.LLM.MaxAttempts,
		BackoffInitial:  cfg.LLM.BackoffInitial,
		BackoffMax:      cfg.LLM.BackoffMax,
		AutoExecute:     cfg.Agent.AutoExecute || f.execute,
	}, deps)
	if err != nil {
		return err
	}

	// A query on the command line is handled once and the process exits
	// with the status of the command it ran.
	if query := strings.Join(args, " "); strings.TrimSpace(query) != "" {
		if code := term.Once(ctx, eng, query); code != 0 {
			return exitStatus(code)
		}
		return nil
	}
	fmt.Fprintf(a.out, "ShellMind %s (%s mode, %s). Type exit to quit.\n", Version, mode, cfg.LLM.Provider)
	return term.Run(ctx, eng, "")
}

// wire builds the agent's collaborators from cfg. The returned cleanup
// stops MCP servers and closes the provider client.
func wire(ctx context.Context, cfg *config.Config, logger *zap.Logger) (agent.Deps, func(), error) {
	classifier, err := safety.NewDefault(cfg.Safety.RulesFile)
	if err != nil {
		return agent.Deps{}, nil, errors.Wrapf(err, "failed to load safety rules")
	}
	runner := tools.NewShellRunner(cfg.Shell.Timeout, cfg.Shell.MaxOutputBytes)
	searcher := tools.NewTavilySearcher(cfg.Credentials.Tavily, cfg.Search.Endpoint, cfg.Search.RatePerSecond, cfg.Search.Timeout)

	wd, _ := os.Getwd()
	registry, err := tools.NewDefaultRegistry(tools.BuiltinOptions{
		Runner:           runner,
		Classifier:       classifier,
		Searcher:         searcher,
		MaxSearchResults: cfg.Search.MaxResults,
		WorkDir:          wd,
	}, logger)
	if err != nil {
		return agent.Deps{}, nil, err
	}
	registry.SetTimeout(cfg.Agent.ToolTimeout)
	clients := mcp.RegisterAll(ctx, registry, cfg.MCPServers, logger)

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		stopAll(clients, logger)
		return agent.Deps{}, nil, err
	}
	cleanup := func() {
		stopAll(clients, logger)
		if c, ok := client.(io.Closer); ok {
			_ = c.Close()
		}
	}

	env := tools.DetectEnvironment(exec.LookPath)
	return agent.Deps{
		Gateway:    llm.NewGateway(client, cfg.LLM, logger),
		Builder:    prompt.NewBuilder(env.Summary(), cfg.Agent.WindowSize),
		Registry:   registry,
		Classifier: classifier,
		Runner:     runner,
		Logger:     logger,
	}, cleanup, nil
}

func stopAll(clients []*mcp.Client, logger *zap.Logger) {
	for _, c := range clients {
		if err := c.Stop(); err != nil {
			logger.Warn("mcp server did not stop cleanly", zap.Error(err))
		}
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
