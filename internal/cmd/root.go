package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/willfong/adaptive-auth/internal/config"
	"github.com/willfong/adaptive-auth/internal/ui"
)

var (
	cfgFile   string
	verbose   bool
	noColor   bool
	engineURL string
	logFile   string
	logLevel  string

	// cfg is loaded once per invocation by initConfig
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Risk-adaptive step-up authentication client",
	Long: `A terminal client for a remote risk engine.

Logins are scored by the engine. A low score signs you straight in; a high
score asks for a one-time passcode before the session is established.
The simulate command shows how the engine scores hypothetical logins
without authenticating.

Settings are read from flags, AUTHCTL_* environment variables and
$HOME/.authctl.yaml, in that order of precedence.

Example usage:
  authctl serve --echo-otp --demo-user
  authctl login --username testuser
  authctl simulate blacklisted-ip --seed`,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		var r reportedError
		if !errors.As(err, &r) {
			u := ui.New()
			u.SetNoColor(noColor)
			fmt.Fprintln(os.Stderr, u.Error(err.Error()))
		}
	}
	return err
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.authctl.yaml)")
	pf.StringVar(&engineURL, "engine-url", config.EngineBaseURL, "risk engine base URL")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVar(&noColor, "no-color", false, "disable colors and animations")
	pf.StringVar(&logFile, "log-file", "", "write JSON logs to this file")
	pf.StringVar(&logLevel, "log-level", config.LogLevel, "log level (debug, info, warn, error)")

	// Silence usage on error - we'll print our own messages
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	// Set version template
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// initConfig layers defaults, the config file, the environment and flags.
func initConfig(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	config.SetDefaults(v)

	pf := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{
		"engine.base_url": "engine-url",
		"log.file":        "log-file",
		"log.level":       "log-level",
		"verbose":         "verbose",
	} {
		if err := v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".authctl")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	c, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c
	return nil
}

// reportedError marks an error the command already showed to the user.
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }

func (e reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err: err}
}

// Verbose returns whether verbose mode is enabled
func Verbose() bool {
	return cfg != nil && cfg.Verbose
}
