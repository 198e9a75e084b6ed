package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/kpcbench/internal/logging"
	"github.com/wesleyorama2/kpcbench/internal/output"
	"github.com/wesleyorama2/kpcbench/kpc"
)

var version = "0.1.0"

// Option configures the command tree.
type Option func(*app)

// WithResolver makes every command load the capability modules through r.
func WithResolver(r *kpc.Resolver) Option {
	return func(a *app) {
		a.resolver = r
	}
}

// WithOutput redirects the command output.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(a *app) {
		a.stdout = stdout
		a.stderr = stderr
	}
}

// WithLogger uses l instead of building a logger from the flags.
func WithLogger(l *zap.Logger) Option {
	return func(a *app) {
		a.logger = l
	}
}

// app is the state shared by the commands of one invocation.
type app struct {
	v        *viper.Viper
	stdout   io.Writer
	stderr   io.Writer
	resolver *kpc.Resolver
	logger   *zap.Logger
}

// NewRootCmd builds the kpcbench command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	a := &app{
		v:      viper.New(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.v.SetEnvPrefix("KPCBENCH")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:     "kpcbench",
		Short:   "Measure code with the Apple hardware performance counters",
		Version: version,
		Long: `kpcbench programs the CPU performance counters through the private
kperf and kperfdata frameworks, runs a workload on the calling thread and
reports how many times each requested hardware event occurred.

Counting requires root privileges.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flags are bound per invocation so commands sharing a flag name
			// do not overwrite each other's binding.
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return a.initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Logger().Sync()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolP("verbose", "v", false, "verbose output (debug logging with caller information)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newEventsCmd(a))
	root.AddCommand(newCheckCmd(a))
	return root
}

func (a *app) initLogger() error {
	if a.logger != nil {
		logging.SetLogger(a.logger)
		return nil
	}

	level := a.v.GetString("log-level")
	verbose := a.v.GetBool("verbose")
	if verbose {
		level = "debug"
	}
	l, err := logging.New(level, verbose)
	if err != nil {
		return usageErrorf("invalid log level %q: %v", level, err)
	}
	a.logger = l
	logging.SetLogger(l)
	return nil
}

// measurer builds a Measurer using the injected resolver or one for paths.
func (a *app) measurer(paths kpc.Paths, policy kpc.CachePolicy, opts ...kpc.Option) *kpc.Measurer {
	r := a.resolver
	if r == nil {
		r = kpc.NewResolver(paths, policy)
	}
	opts = append([]kpc.Option{kpc.WithResolver(r), kpc.WithLogger(logging.Logger())}, opts...)
	return kpc.New(opts...)
}

// formatter resolves the output format and colour setting.
func (a *app) formatter(format string, noColor bool) (output.FormatProvider, error) {
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, usageErrorf("%v", err)
	}
	return output.GetFormatter(f, !output.ColorEnabled(a.stdout, noColor)), nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", output.ErrorIcon(!output.ColorEnabled(os.Stderr, false)), err)
	}
	return ExitCode(err)
}
