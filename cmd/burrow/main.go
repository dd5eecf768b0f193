// Command burrow runs compiled programs and drives their suspensions from
// the shell. Each suspension is written to a dump file that a later
// `burrow resume` picks up.
package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deepnoodle-ai/burrow/config"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is read when --config is not given and the file exists.
const defaultConfigPath = "~/.burrow.toml"

// app holds the state shared by every command once global flags are read.
// Global flags may also be set through BURROW_* environment variables.
type app struct {
	settings *viper.Viper
	output   string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{settings: viper.New()}
	root := &cobra.Command{
		Use:           "burrow",
		Short:         "Run sandboxed programs that pause at every host call",
		Version:       version + " (" + commit + ", " + date + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "path to a burrow.toml configuration (default "+defaultConfigPath+" if present)")
	flags.String("log-level", "warn", "log level (trace, debug, info, warn, error)")
	flags.Bool("no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	flags.StringP("output", "o", "", "output format (text, json)")

	a.settings.SetEnvPrefix("burrow")
	a.settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.settings.AutomaticEnv()
	for _, name := range []string{"config", "log-level", "no-color", "output"} {
		if err := a.settings.BindPFlag(name, flags.Lookup(name)); err != nil {
			fatal(err)
		}
	}

	root.AddCommand(
		newRunCmd(a),
		newResumeCmd(a),
		newInspectCmd(a),
		newDisCmd(a),
	)
	return root
}

func (a *app) setup() error {
	path, err := configPath(a.settings.GetString("config"))
	if err != nil {
		return err
	}
	a.cfg = config.Default()
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	a.output = a.settings.GetString("output")
	if a.output == "" {
		a.output = a.cfg.Output.Format
	}
	if a.settings.GetBool("no-color") || a.cfg.Output.NoColor || !isTerminalIO() {
		color.NoColor = true
	}
	logger, err := newLogger(a.settings.GetString("log-level"))
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// configPath expands a leading ~ in the configured path. With no path
// given it falls back to the default file, or none when that is missing.
func configPath(path string) (string, error) {
	if path != "" {
		return homedir.Expand(path)
	}
	expanded, err := homedir.Expand(defaultConfigPath)
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(expanded); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return expanded, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatal(err)
	}
}
