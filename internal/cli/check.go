package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	kpcerrors "github.com/wesleyorama2/kpcbench/errors"
	"github.com/wesleyorama2/kpcbench/kpc"
)

func newCheckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether counters can be used on this machine",
		Long: `Load the kperf frameworks, probe counter access and report the CPU, PMU
version, event database and counter counts.

The exit status is 0 when a measurement can be started, 77 when counter
access is denied (run as root) and 75 when another client holds the
counters.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.check()
		},
	}

	flags := cmd.Flags()
	flags.String("model", "", "event database to open instead of the running CPU's")
	flags.StringP("format", "f", "text", "output format (text, json, yaml)")
	flags.Bool("no-color", false, "disable colored output")
	return cmd
}

func (a *app) check() error {
	formatter, err := a.formatter(a.v.GetString("format"), a.v.GetBool("no-color"))
	if err != nil {
		return err
	}

	m := a.measurer(kpc.Paths{}, kpc.RetryOnFailure, kpc.WithModel(a.v.GetString("model")))
	p, probeErr := m.Platform()

	out, err := formatter.FormatPlatform(p)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprint(a.stdout, out); err != nil {
		return err
	}

	switch {
	case probeErr != nil:
		return probeErr
	case p.Busy:
		return kpcerrors.New(kpcerrors.PhaseArm, kpcerrors.KindHardwareBusy).
			Detail("performance counters are reserved by another client").
			Build()
	case !p.Ready():
		return errNotReady
	}
	return nil
}
