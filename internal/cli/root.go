package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// ExitError reports a non-zero exit code whose cause has already been
// printed.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type globalOptions struct {
	logLevel  string
	logFormat string
	noColor   bool

	stdout io.Writer
	stderr io.Writer
}

// NewRootCmd builds the command tree writing to stdout and stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:     "vuload",
		Short:   "Virtual-user HTTP load generator",
		Version: version,
		Long: `vuload runs a declarative HTTP load test: a setup step, a pool of
virtual users following a staged ramp profile, a teardown step, and a
pass/fail verdict from thresholds over the collected metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "console", "log format (console, json)")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	return root
}

// Execute runs the command line and prints any error that is not an
// ExitError.
func Execute() error {
	err := NewRootCmd(os.Stdout, os.Stderr).Execute()
	var exit *ExitError
	if err != nil && !errors.As(err, &exit) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// logger builds the process logger on stderr.
func (o *globalOptions) logger() (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(o.logLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid --log-level %q", o.logLevel)
	}

	var w io.Writer
	switch o.logFormat {
	case "json":
		w = o.stderr
	case "console", "":
		w = zerolog.ConsoleWriter{Out: o.stderr, NoColor: o.noColor, TimeFormat: time.TimeOnly}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid --log-format %q", o.logFormat)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
