package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

// errExit is a sentinel error used to signal REPL exit
var errExit = errors.New("exit")

// REPL is an interactive shell for stepping through a sign-in flow.
type REPL struct {
	cfg             FlowConfig
	session         *Session
	logger          *logging.Logger
	out             io.Writer
	rl              *readline.Instance
	commandHandlers map[string]commandHandler
}

// NewREPL creates a REPL whose sessions are built from cfg.
func NewREPL(cfg FlowConfig, logger *logging.Logger) (*REPL, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	session, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	r := &REPL{
		cfg:     cfg,
		session: session,
		logger:  logger,
		out:     os.Stdout,
	}
	r.commandHandlers = r.buildCommandHandlers()
	return r, nil
}

// Run starts the REPL
func (r *REPL) Run(ctx context.Context) error {
	historyFile := filepath.Join(os.TempDir(), ".auth_agent_history")

	config := &readline.Config{
		Prompt:          "auth-agent> ",
		HistoryFile:     historyFile,
		AutoComplete:    r.createCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()
	r.rl = rl
	r.out = rl.Stdout()

	r.logger.Info("Auth Agent shell started. Type 'help' for available commands. Use TAB for completion.")
	r.println()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Shell shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.executeCommand(ctx, input); err != nil {
			if errors.Is(err, errExit) {
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}

		r.println()
	}
}

// createCompleter creates the tab completion configuration
func (r *REPL) createCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
		readline.PcItem("origin"),
		readline.PcItem("extract"),
		readline.PcItem("request"),
		readline.PcItem("auth"),
		readline.PcItem("verify"),
		readline.PcItem("status"),
		readline.PcItem("wait"),
		readline.PcItem("flow"),
		readline.PcItem("session"),
		readline.PcItem("reset"),
	)
}

// filterInput filters input characters for readline
func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// commandHandler defines a REPL command with its handler and argument requirements
type commandHandler struct {
	minArgs int
	usage   string
	handler func(ctx context.Context, parts []string) error
}

// buildCommandHandlers creates the map of command handlers
func (r *REPL) buildCommandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"help": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"?": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.showHelp()
		}},
		"exit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"quit": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return errExit
		}},
		"origin": {
			minArgs: 2,
			usage:   "usage: origin <authorization-url>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleOrigin(parts[1])
			},
		},
		"extract": {
			minArgs: 2,
			usage:   "usage: extract <authorization-url|page-source>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleExtract(ctx, strings.Join(parts[1:], " "))
			},
		},
		"request": {
			minArgs: 2,
			usage:   "usage: request <request-id>",
			handler: func(ctx context.Context, parts []string) error {
				r.session.SetRequestID(parts[1])
				r.printf("Request id set to %s\n", r.session.RequestID())
				return nil
			},
		},
		"auth": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleAuthenticate(ctx, optionalArg(parts, 1))
		}},
		"verify": {
			minArgs: 2,
			usage:   "usage: verify <code>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleVerify(ctx, parts[1])
			},
		},
		"status": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleStatus(ctx)
		}},
		"wait": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleWait(ctx, optionalArg(parts, 1))
		}},
		"flow": {
			minArgs: 2,
			usage:   "usage: flow <authorization-url>",
			handler: func(ctx context.Context, parts []string) error {
				return r.handleFlow(ctx, parts[1])
			},
		},
		"session": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleSession()
		}},
		"reset": {minArgs: 1, handler: func(ctx context.Context, parts []string) error {
			return r.handleReset()
		}},
	}
}

func optionalArg(parts []string, i int) string {
	if len(parts) > i {
		return parts[i]
	}
	return ""
}

// executeCommand parses and executes a command
func (r *REPL) executeCommand(ctx context.Context, input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	command := strings.ToLower(parts[0])

	handler, exists := r.commandHandlers[command]
	if !exists {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", command)
	}

	if len(parts) < handler.minArgs {
		return errors.New(handler.usage)
	}

	return handler.handler(ctx, parts)
}

// showHelp displays available commands
func (r *REPL) showHelp() error {
	r.println("Available commands:")
	r.println("  help, ?                      - Show this help message")
	r.println("  origin <url>                 - Derive the authorization server origin")
	r.println("  extract <url|html>           - Extract the request id from a page")
	r.println("  request <id>                 - Use a request id obtained elsewhere")
	r.println("  auth [request-id]            - Authenticate the agent")
	r.println("  verify <code>                - Submit a 2FA code")
	r.println("  status                       - Check the request status once")
	r.println("  wait [timeout]               - Poll until the request completes (e.g. wait 30s)")
	r.println("  flow <url>                   - Run the complete sign-in flow")
	r.println("  session                      - Show the current session")
	r.println("  reset                        - Start a fresh session")
	r.println("  exit, quit                   - Exit the shell")
	r.println()
	r.println("Keyboard shortcuts:")
	r.println("  TAB                          - Auto-complete commands")
	r.println("  ↑/↓ (arrow keys)             - Navigate command history")
	r.println("  Ctrl+R                       - Search command history")
	r.println("  Ctrl+C                       - Cancel current line")
	r.println("  Ctrl+D                       - Exit the shell")
	return nil
}

func (r *REPL) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func (r *REPL) println(args ...interface{}) {
	_, _ = fmt.Fprintln(r.out, args...)
}

// ReadlineTwoFactorPrompt asks for a verification code on the terminal.
func ReadlineTwoFactorPrompt() TwoFactorProvider {
	return func(ctx context.Context, outcome *AuthOutcome) (string, error) {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "2FA code: ",
			InterruptPrompt: "^C",
		})
		if err != nil {
			return "", fmt.Errorf("failed to create readline instance: %w", err)
		}
		defer func() { _ = rl.Close() }()

		if outcome != nil && outcome.ExpiresIn > 0 {
			_, _ = fmt.Fprintf(rl.Stdout(), "Enter the code sent to the account owner (expires in %ds)\n", outcome.ExpiresIn)
		}

		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("no verification code entered: %w", err)
		}
		code := strings.TrimSpace(line)
		if code == "" {
			return "", errors.New("no verification code entered")
		}
		return code, nil
	}
}
