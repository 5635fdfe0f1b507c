// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatpilot-cli/internal/config"
	"github.com/xkilldash9x/chatpilot-cli/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// viperKeyAnnotation marks a flag as an override for a configuration key.
const viperKeyAnnotation = "viper_key"

// NewRootCommand builds a fresh command tree. Each call returns an
// independent tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "chatpilot",
		Short: "chatpilot automates the QQ desktop and web clients: open, search, reply and monitor.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "chatpilot"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "chatpilot"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			if err := cfg.EnsureDirs(); err != nil {
				return err
			}
			observability.GetLogger().Debug("Starting chatpilot",
				zap.String("version", Version),
				zap.String("backend", cfg.App.Backend),
			)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "backend to drive: native or browser")
	bindFlag(rootCmd.PersistentFlags(), "backend", "app.backend")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	bindFlag(rootCmd.PersistentFlags(), "log-level", "logger.level")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newOpenCmd(),
		newReadCmd(),
		newListCmd(),
		newSearchCmd(),
		newReplyCmd(),
		newMonitorCmd(),
		newLoginCmd(),
		newEventsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with ctx. The caller reports the error.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	return NewRootCommand().ExecuteContext(ctx)
}

// bindFlag records the configuration key a flag overrides. The binding is
// applied by initializeConfig so that flags win over file and environment.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, viperKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("flag %q: %v", name, err))
	}
}

// initializeConfig reads in config file and ENV variables if set, then binds
// annotated flags of cmd and its parents.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CHATPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(keys[0], f)
	})
	return bindErr
}

// getConfig returns the configuration loaded by the root command.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
