package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/NicolasHaas/gotodo/pkg/client"
	"github.com/NicolasHaas/gotodo/pkg/logging"
	"github.com/NicolasHaas/gotodo/pkg/protocol"
	"github.com/NicolasHaas/gotodo/pkg/version"
)

const usage = `Usage: gotodo [flags] <command> [args]

Commands:
  list                 list todos (--completed, --priority)
  create <title>       create a todo (--priority, --due, --tags, --description)
  complete <id>        mark a todo completed
  delete <id>          delete a todo
  stats                show a summary
  search <query>       search titles, descriptions and tags
  watch                print changes made by your other sessions until interrupted

Flags:
`

type options struct {
	server       string
	wsPath       string
	user         string
	password     string
	token        string
	settingsPath string
	save         bool

	completed   string
	priority    string
	due         string
	description string
	tags        []string
	limit       int

	logLevel    string
	showVersion bool
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("gotodo", pflag.ExitOnError)
	flags.StringVarP(&opts.server, "server", "s", "", "server base URL (default from settings, http://localhost:3000)")
	flags.StringVar(&opts.wsPath, "ws-path", "/ws", "WebSocket endpoint path")
	flags.StringVarP(&opts.user, "user", "u", "", "log in as this username or email")
	flags.StringVar(&opts.password, "password", "", "password for --user (prompted when empty)")
	flags.StringVar(&opts.token, "token", "", "bearer token (default from settings)")
	flags.StringVar(&opts.settingsPath, "settings", client.SettingsPath(), "settings file")
	flags.BoolVar(&opts.save, "save", false, "save the server and token to the settings file")
	flags.StringVar(&opts.completed, "completed", "", "list filter: true or false")
	flags.StringVarP(&opts.priority, "priority", "p", "", "low, medium or high")
	flags.StringVar(&opts.due, "due", "", "due date, YYYY-MM-DD or RFC 3339")
	flags.StringVarP(&opts.description, "description", "d", "", "todo description")
	flags.StringSliceVarP(&opts.tags, "tags", "t", nil, "comma-separated tags")
	flags.IntVarP(&opts.limit, "limit", "n", 0, "maximum results")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: "+logging.LevelNames())
	flags.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if opts.showVersion {
		fmt.Println("gotodo " + version.String())
		return
	}
	if err := logging.Setup(logging.Options{Level: opts.logLevel, Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(2)
	}

	args := flags.Args()
	if len(args) == 0 && !opts.save {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, args); err != nil {
		var serr *client.ServerError
		if errors.As(err, &serr) {
			fmt.Fprintf(os.Stderr, "server: %s\n", serr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, args []string) error {
	settings, err := client.LoadSettings(opts.settingsPath)
	if err != nil {
		return err
	}
	if opts.server != "" {
		settings.Server = opts.server
	}
	if opts.token != "" {
		settings.Token = opts.token
	}

	if opts.user != "" {
		password, err := readPassword(opts.password)
		if err != nil {
			return err
		}
		loginCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		sess, err := client.NewAPI(settings.Server).Login(loginCtx, opts.user, password)
		cancel()
		if err != nil {
			return err
		}
		settings.Username = sess.User.Username
		settings.Token = sess.Token
		slog.Info("logged in", "user", sess.User.Username)
	}

	if opts.save {
		if err := settings.Save(opts.settingsPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "settings saved to %s\n", opts.settingsPath)
		if len(args) == 0 {
			return nil
		}
	}
	if settings.Token == "" {
		return errors.New("not logged in: pass --user (and --save to remember the token) or --token")
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	if len(args)-1 < cmd.args {
		return fmt.Errorf("%s: missing argument", args[0])
	}

	conn, err := connect(ctx, settings, opts.wsPath)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	return cmd.run(ctx, conn, opts, args[1:])
}

// connect dials the WebSocket endpoint and waits for the connect-time
// authentication result.
func connect(ctx context.Context, settings *client.Settings, wsPath string) (*client.Client, error) {
	wsURL, err := client.WebSocketURL(settings.Server, wsPath)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, err := client.Dial(dialCtx, wsURL, settings.Token)
	if err != nil {
		return nil, err
	}
	env, err := conn.NextEvent(dialCtx, protocol.TypeAuthSuccess, protocol.TypeAuthError)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("waiting for authentication: %w", err)
	}
	if env.Type == protocol.TypeAuthError {
		_ = conn.Close()
		return nil, errors.New("token rejected: log in again with --user")
	}
	return conn, nil
}

// readPassword returns flagValue, or prompts on the terminal with echo off.
func readPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal available for password prompt (use --password)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
