package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/kpcbench/kpc"
)

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the events of the event database",
		Long: `List every event known to the event database of the running CPU, or of
the database named with --model. The names printed are the keys accepted by
run --event and by profiles.

Examples:
  kpcbench events
  kpcbench events --filter branch
  kpcbench events --model a14 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.events()
		},
	}

	flags := cmd.Flags()
	flags.String("model", "", "event database to list instead of the running CPU's")
	flags.String("filter", "", "only list events whose name, alias or description contains this text")
	flags.StringP("format", "f", "text", "output format (text, json, yaml)")
	flags.Bool("no-color", false, "disable colored output")
	return cmd
}

func (a *app) events() error {
	formatter, err := a.formatter(a.v.GetString("format"), a.v.GetBool("no-color"))
	if err != nil {
		return err
	}

	m := a.measurer(kpc.Paths{}, kpc.RetryOnFailure, kpc.WithModel(a.v.GetString("model")))
	database, events, err := m.ListEvents()
	if err != nil {
		return err
	}

	events = filterEvents(events, a.v.GetString("filter"))
	out, err := formatter.FormatEvents(database, events)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(a.stdout, out)
	return err
}

// filterEvents keeps events mentioning filter, ignoring case.
func filterEvents(events []kpc.EventInfo, filter string) []kpc.EventInfo {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return events
	}

	var kept []kpc.EventInfo
	for _, ev := range events {
		if strings.Contains(strings.ToLower(ev.Name), filter) ||
			strings.Contains(strings.ToLower(ev.Alias), filter) ||
			strings.Contains(strings.ToLower(ev.Description), filter) {
			kept = append(kept, ev)
		}
	}
	return kept
}
