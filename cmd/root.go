package cmd

import (
	"fmt"
	"io"
	"os"

	"governor/internal/config"
	"governor/pkg/logging"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	overrides  []string
	debug      bool
	logLevel   string
	logFormat  string
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "governor",
		Short: "Run test suites through an extensible behavior pipeline",
		Long: `governor executes hierarchical test suites described in YAML. Every
container, test, factory and template runs through a fixed lifecycle whose
steps are extended by behaviors: callbacks, conditions, interceptors,
deadlines, failure handlers and watchers.`,
		// SilenceUsage is set to true to prevent printing usage message on errors
		// handled by us (e.g. failed units, invalid suites)
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initLogging(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a parameters file, layered over ~/.config/governor/config.yaml and ./.governor/config.yaml")
	flags.StringArrayVar(&opts.overrides, "set", nil, "Override a configuration parameter (key=value, repeatable)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")

	_ = cmd.RegisterFlagCompletionFunc("log-format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("log-level", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (o *globalOptions) initLogging(out io.Writer) error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	if o.debug {
		level = logging.LevelDebug
	}

	switch o.logFormat {
	case "text", "":
		logging.InitForCLI(level, out)
	case "json":
		logging.InitJSON(level, out)
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", o.logFormat)
	}
	return nil
}

// parameters loads the configuration file and applies the --set overrides.
func (o *globalOptions) parameters() (config.Parameters, error) {
	overrides := make(map[string]string, len(o.overrides))
	for _, s := range o.overrides {
		k, v, err := config.ParseOverride(s)
		if err != nil {
			return config.Parameters{}, err
		}
		overrides[k] = v
	}
	return config.LoadConfig(o.configPath, overrides)
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "governor version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}
