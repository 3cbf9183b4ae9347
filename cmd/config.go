package cmd

import (
	"fmt"
	"text/tabwriter"

	"governor/internal/deadline"
	"governor/internal/invocation"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configView is the YAML shape printed by config -o yaml.
type configView struct {
	Parameters map[string]string `yaml:"parameters"`
	Timeouts   timeoutView       `yaml:"timeouts"`
}

type timeoutView struct {
	Mode      string            `yaml:"mode"`
	Strategy  string            `yaml:"strategy"`
	Deadlines map[string]string `yaml:"deadlines"`
}

func newConfigCmd(global *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Long: `Print every configuration parameter after layering the user, project and
--config files and the --set overrides, followed by the deadline each
invocation phase would run under.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := global.parameters()
			if err != nil {
				return err
			}
			resolver, err := deadline.NewResolver(params)
			if err != nil {
				return err
			}

			view := configView{
				Parameters: params.Map(),
				Timeouts: timeoutView{
					Mode:      string(resolver.Mode()),
					Strategy:  string(resolver.DefaultStrategy()),
					Deadlines: make(map[string]string, len(invocation.AllKinds)),
				},
			}
			for _, kind := range invocation.AllKinds {
				view.Timeouts.Deadlines[string(kind)] = describeDeadline(resolver, kind)
			}

			out := cmd.OutOrStdout()
			switch output {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(view); err != nil {
					return fmt.Errorf("failed to encode configuration: %w", err)
				}
				return enc.Close()
			case "table", "":
			default:
				return fmt.Errorf("unknown output format %q (want table or yaml)", output)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PARAMETER\tVALUE")
			for _, key := range params.Keys() {
				v, _ := params.Get(key)
				fmt.Fprintf(w, "%s\t%s\n", key, v)
			}
			fmt.Fprintf(w, "\nPHASE\tDEADLINE (mode %s)\n", view.Timeouts.Mode)
			for _, kind := range invocation.AllKinds {
				fmt.Fprintf(w, "%s\t%s\n", kind, view.Timeouts.Deadlines[string(kind)])
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, yaml)")
	return cmd
}

func describeDeadline(r *deadline.Resolver, kind invocation.Kind) string {
	d, ok, err := r.Resolve(invocation.Call{Kind: kind, Name: string(kind)}, nil)
	switch {
	case err != nil:
		return "invalid: " + err.Error()
	case !ok:
		return "none"
	}
	return d.String()
}
