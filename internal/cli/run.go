package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/kpcbench/internal/config"
	"github.com/wesleyorama2/kpcbench/internal/logging"
	"github.com/wesleyorama2/kpcbench/internal/output"
	"github.com/wesleyorama2/kpcbench/internal/workload"
	"github.com/wesleyorama2/kpcbench/kpc"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Count hardware events around a workload",
		Long: `Program the requested events, run a built-in workload on the calling
thread and report the number of times each event occurred.

Without --profile the built-in profile counts cycles, instructions, branches,
branch misses and subroutine calls around the random-branches workload.

Examples:
  kpcbench run
  kpcbench run --event cycles=FIXED_CYCLES --event "branch misses=BRANCH_MISPRED_NONSPEC"
  kpcbench run --profile branches.yaml --repeat 20 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringP("profile", "p", "", "measurement profile (YAML or JSON)")
	flags.StringArrayP("event", "e", nil, "event to count as name=KEY or KEY (repeatable, replaces the profile events)")
	flags.String("model", "", "event database to use instead of the running CPU's")
	flags.Bool("user-only", false, "count user-space activity only")
	flags.IntP("repeat", "n", 1, "number of measurements")
	flags.StringP("workload", "w", workload.DefaultName,
		"workload to measure ("+strings.Join(workload.Names(), ", ")+")")
	flags.Int("iterations", workload.DefaultIterations, "workload iterations")
	flags.StringP("format", "f", "text", "output format (text, json, yaml)")
	flags.Bool("no-color", false, "disable colored output")
	return cmd
}

func (a *app) run(cmd *cobra.Command) error {
	profile, err := a.loadProfile(cmd)
	if err != nil {
		return err
	}

	w, err := workload.Lookup(profile.Workload.Name)
	if err != nil {
		return usageErrorf("%v", err)
	}
	formatter, err := a.formatter(profile.Output.Format, profile.Output.NoColor)
	if err != nil {
		return err
	}

	m := a.measurer(profile.Paths(), profile.CachePolicy(),
		kpc.WithModel(profile.Model),
		kpc.WithUserSpaceOnly(profile.UserSpaceOnly))

	logging.Logger().Info("starting measurement",
		zap.String("profile", profile.Name),
		zap.String("workload", w.Name),
		zap.Int("iterations", profile.Workload.Iterations),
		zap.Int("events", len(profile.Events)),
		zap.Int("repeat", profile.Repeat))

	summary, err := m.Repeat(profile.Events, profile.Repeat, w.Func(profile.Workload.Iterations))
	if err != nil {
		return err
	}

	out, err := formatter.FormatReport(&output.Report{
		Profile:    profile.Name,
		Workload:   w.Name,
		Iterations: profile.Workload.Iterations,
		Summary:    summary,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(a.stdout, out)
	return err
}

// loadProfile reads --profile (or the built-in profile) and applies the
// flag and environment overrides.
func (a *app) loadProfile(cmd *cobra.Command) (*config.Profile, error) {
	profile := config.DefaultProfile()
	if path := a.v.GetString("profile"); path != "" {
		p, err := config.LoadProfile(path)
		if err != nil {
			return nil, &usageError{err: fmt.Errorf("profile %s: %w", path, err)}
		}
		profile = p
	}

	events, err := cmd.Flags().GetStringArray("event")
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		reqs, err := parseEvents(events)
		if err != nil {
			return nil, err
		}
		profile.Events = reqs
	}

	if a.v.IsSet("model") {
		profile.Model = a.v.GetString("model")
	}
	if a.v.IsSet("user-only") {
		profile.UserSpaceOnly = a.v.GetBool("user-only")
	}
	if a.v.IsSet("repeat") {
		profile.Repeat = a.v.GetInt("repeat")
	}
	if a.v.IsSet("workload") {
		profile.Workload.Name = a.v.GetString("workload")
	}
	if a.v.IsSet("iterations") {
		profile.Workload.Iterations = a.v.GetInt("iterations")
	}
	if a.v.IsSet("format") {
		profile.Output.Format = a.v.GetString("format")
	}
	if a.v.IsSet("no-color") {
		profile.Output.NoColor = a.v.GetBool("no-color")
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// parseEvents turns name=KEY arguments into requests. A bare KEY is also
// used as the display name.
func parseEvents(args []string) ([]kpc.EventRequest, error) {
	events := kpc.NewEvents()
	for _, arg := range args {
		name, key, found := strings.Cut(arg, "=")
		if !found {
			key = name
		}
		name = strings.TrimSpace(name)
		key = strings.TrimSpace(key)
		if name == "" || key == "" {
			return nil, usageErrorf("invalid --event %q: want name=KEY or KEY", arg)
		}
		events.Push(name, key)
	}
	return events.Requests(), nil
}
