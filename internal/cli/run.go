package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/calvinalkan/sitecms/internal/cms"
)

const (
	consumedOne  = 1
	consumedTwo  = 2
	consumedNone = 0
	helpFlag     = "--help"
)

var (
	errUnknownFlag     = errors.New("unknown flag")
	errFlagRequiresArg = errors.New("flag requires an argument")
)

// Run is the main entry point. Returns exit code.
//
// sigCh, if not nil, cancels the command context on the first signal. A
// second signal is left to the default handler of the caller.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	flags, err := parseGlobalFlags(args[min(1, len(args)):])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, nil)

		return 1
	}

	if len(flags.remaining) == 0 || flags.remaining[0] == helpFlag || flags.remaining[0] == "-h" {
		printUsage(out, nil)

		return 0
	}

	logLevel := flags.logLevel
	if flags.verbose {
		logLevel = "debug"
	}

	cfg, err := cms.LoadConfig(cms.LoadConfigInput{
		WorkDirOverride:  flags.workDir,
		ConfigPath:       flags.configPath,
		DocumentOverride: flags.document,
		LogLevelOverride: logLevel,
		Env:              env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	logger := newLogger(errOut, cfg.LogLevelParsed)
	defer func() { _ = logger.Sync() }()

	registry, err := cfg.Registry()
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	svc, err := cms.New(cfg, registry, logger, cms.Options{})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	cmdEnv := &Env{Config: &cfg, Service: svc, Logger: logger}
	commands := allCommands(cmdEnv)

	name := flags.remaining[0]

	cmd, ok := commands[name]
	if !ok {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				logger.Debug("signal received, cancelling")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(in, out, errOut), flags.remaining[1:])
}

// Env is what commands share: the resolved config and the service built
// from it.
type Env struct {
	Config  *cms.Config
	Service *cms.Service
	Logger  *zap.Logger
}

// commandOrder is the order of the usage listing.
var commandOrder = []string{
	"kinds", "ls", "show", "create", "update", "delete",
	"upload", "check", "watch", "print-config",
}

func allCommands(env *Env) map[string]*Command {
	list := []*Command{
		KindsCmd(env),
		LsCmd(env),
		ShowCmd(env),
		CreateCmd(env),
		UpdateCmd(env),
		DeleteCmd(env),
		UploadCmd(env),
		CheckCmd(env),
		WatchCmd(env),
		PrintConfigCmd(env.Config),
	}

	commands := make(map[string]*Command, len(list))
	for _, c := range list {
		commands[c.Name()] = c
	}

	return commands
}

type globalFlags struct {
	workDir    string
	configPath string
	document   string
	logLevel   string
	verbose    bool
	remaining  []string
}

func parseGlobalFlags(args []string) (globalFlags, error) {
	var flags globalFlags

	idx := 0
	for idx < len(args) {
		consumed, err := parseFlag(args, idx, &flags)
		if err != nil {
			return globalFlags{}, err
		}

		if consumed == 0 {
			// Not a flag, this is the command
			flags.remaining = args[idx:]

			break
		}

		idx += consumed
	}

	return flags, nil
}

// valueFlag matches "-s v", "--long v" and "--long=v" forms of one flag.
func valueFlag(args []string, idx int, short, long string, dst *string) (int, bool, error) {
	arg := args[idx]

	if arg == long || (short != "" && arg == short) {
		if idx+1 >= len(args) {
			return consumedNone, true, fmt.Errorf("%w: %s", errFlagRequiresArg, arg)
		}

		*dst = args[idx+1]

		return consumedTwo, true, nil
	}

	if after, ok := strings.CutPrefix(arg, long+"="); ok {
		*dst = after

		return consumedOne, true, nil
	}

	return consumedNone, false, nil
}

// parseFlag tries to parse a flag at args[idx]. Returns number of args consumed (0 if not a flag).
func parseFlag(args []string, idx int, flags *globalFlags) (int, error) {
	arg := args[idx]

	for _, f := range []struct {
		short, long string
		dst         *string
	}{
		{"-C", "--cwd", &flags.workDir},
		{"-c", "--config", &flags.configPath},
		{"", "--document", &flags.document},
		{"", "--log-level", &flags.logLevel},
	} {
		consumed, matched, err := valueFlag(args, idx, f.short, f.long, f.dst)
		if matched {
			return consumed, err
		}
	}

	if arg == "-v" || arg == "--verbose" {
		flags.verbose = true

		return consumedOne, nil
	}

	// -h/--help flags
	if arg == "-h" || arg == helpFlag {
		flags.remaining = []string{helpFlag}

		return len(args) - idx, nil
	}

	// Unknown flag
	if strings.HasPrefix(arg, "-") && arg != "-" {
		return consumedNone, fmt.Errorf("%w: %s", errUnknownFlag, arg)
	}

	// Not a flag
	return consumedNone, nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, commands map[string]*Command) {
	fprintln(w, `cms - edit the site's catalog and articles

Usage: cms [options] <command> [args]

Options:
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
  --document <file>      Host document holding the catalog collections
  --log-level <level>    debug, info, warn or error
  -v, --verbose          Same as --log-level=debug

Commands:`)

	if commands == nil {
		commands = allCommands(&Env{Config: &cms.Config{}})
	}

	for _, name := range commandOrder {
		fprintln(w, commands[name].HelpLine())
	}
}
