package main

import (
	"fmt"
	"strings"

	"github.com/fogfactory/splitjoin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	configFlag    = "config"
	logFormatFlag = "log-format"
	logLevelFlag  = "log-level"

	logFormatConf = "log.format"
	logLevelConf  = "log.level"
)

// newRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with
// SPLITJOIN, or the file given by --config (in that order).
func newRootCommand(v *viper.Viper) *cobra.Command {
	v.SetEnvPrefix(splitjoin.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	splitjoin.SetDefaults(v)
	v.SetDefault(logFormatConf, "text")
	v.SetDefault(logLevelConf, "info")

	cmd := &cobra.Command{
		Use:   "splitjoin",
		Short: "Split a message, process every part concurrently, join the results",
		Long: `splitjoin splits a payload into sub-units, runs a stage on each of them with a bounded number of
goroutines, and joins the processed sub-units back into a single result.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			mustBindPFlag(v, logFormatConf, flags.Lookup(logFormatFlag))
			mustBindPFlag(v, logLevelConf, flags.Lookup(logLevelFlag))

			path, _ := flags.GetString(configFlag)
			if path == "" {
				return nil
			}
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", path, err)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(configFlag, "", "path to a yaml or json configuration file")
	flags.String(logFormatFlag, "text", "log format: 'text' or 'json'")
	flags.String(logLevelFlag, "info", "log level: 'none', 'debug', 'info', 'warn' or 'error'")

	return cmd
}

// mustBindPFlag attempts to bind a specific key to a pflag (as used by cobra) and panics
// if the binding fails with a non-nil error.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	return splitjoin.NewLogger(v.GetString(logFormatConf), v.GetString(logLevelConf))
}
