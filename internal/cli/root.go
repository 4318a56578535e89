package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "koko",
		Short: "Koko, the student budget assistant",
		Long:  "Koko helps students plan grocery and fuel spending through a chat assistant with a shared shopping list.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths(cfgFile)
			if err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = os.Getenv("KOKO_LOG_LEVEL")
			}
			if level == "" {
				level = "info"
			}
			log = logging.New(logWriter(cmd), strings.ToLower(level))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.koko/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newPricesCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig reads the config file and rebuilds the logger from its
// logging section unless --log-level was given.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if logLevel == "" {
		log = logging.NewWithOptions(logWriter(cmd), logging.Options{
			Level: cfg.Logging.Level,
			JSON:  cfg.Logging.ConsoleStyle == "json",
		})
	}
	return cfg, nil
}

// logWriter is nil for the real stderr so the logger picks its own style.
func logWriter(cmd *cobra.Command) io.Writer {
	if w := cmd.ErrOrStderr(); w != os.Stderr {
		return w
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
