/*
Package cmd provides the CLI commands for certmail.
*/
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shineum/certmail-lite/internal/config"
	"github.com/shineum/certmail-lite/internal/logging"
)

// defaultEnvFile is loaded before configuration when present.
const defaultEnvFile = ".env"

var (
	cfgFile string
	envFile string
	verbose bool

	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "certmail",
	Short: "Render personalised certificates and mail them to every recipient",
	Long: `certmail overlays each row of a recipient table onto a certificate
template, renders one PNG per row and sends it to the row's email address.

Example:
  certmail serve                                   # Run the mail transport and HTTP API
  certmail send -t cert.yaml -d people.csv \
      -s 'Your certificate, ${var1}' -b 'Congratulations!'
  certmail render -t cert.yaml -d people.csv -o out/
  certmail table --column course -o people.csv     # Start a recipient table`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML configuration file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(tableCmd)
}

// initConfig loads the dotenv file, then the configuration, and installs
// the logger.
func initConfig(_ *cobra.Command, _ []string) error {
	if err := loadEnvFile(envFile); err != nil {
		return err
	}

	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger = logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

// loadEnvFile loads path into the environment. A missing file is fine;
// an unreadable or malformed one is an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
