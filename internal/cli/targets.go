package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/storage"
	"github.com/postpipe/connector/internal/targets"
)

var targetsCmd = &cobra.Command{
	Use:   "targets [name...]",
	Short: "Show how target names resolve",
	Long: `Print the engine, destination and connection status each target name
resolves to. Without arguments, lists the configured targets and the
default target.`,
	RunE: runTargets,
}

func runTargets(cmd *cobra.Command, args []string) error {
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	resolver := targets.NewResolver(targets.OSEnvironment{}, registry, cfg.Connector.VarPrefix, cfg.ResolverDefaults())

	names := args
	if len(names) == 0 {
		names = append([]string{resolver.DefaultTarget()}, registry.Names()...)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tKIND\tTECHNICAL\tDESTINATION\tCONNECTION")
	for _, name := range names {
		if !targets.ValidName(name) {
			warnf(cmd.ErrOrStderr(), "skipping invalid target name %q", name)
			continue
		}
		row := describeTarget(resolver, name, cfg.DefaultKind())
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", name, row.kind, row.technical, row.destination, row.connection)
	}
	return w.Flush()
}

type targetRow struct {
	kind        models.Kind
	technical   bool
	destination string
	connection  string
}

func describeTarget(r *targets.Resolver, name string, fallback models.Kind) targetRow {
	hint := targets.Hint{Target: name}
	row := targetRow{
		kind:       storage.ResolveKind("", name, r, fallback),
		technical:  r.IsTechnicalAlias(name),
		connection: "n/a",
	}
	switch row.kind {
	case models.KindRelational:
		row.destination = "table " + r.TableName(hint)
		row.connection = connectionStatus(r.RelationalURL(hint))
	case models.KindDocument:
		uri, err := r.DocumentURI(hint)
		row.destination = "database " + r.DatabaseName(hint, uri)
		row.connection = connectionStatus(uri, err)
	default:
		row.destination = "in-memory"
	}
	return row
}

func connectionStatus(_ string, err error) string {
	if err != nil {
		return "missing"
	}
	return "configured"
}
