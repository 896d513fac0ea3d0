package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hearthhq/hearth/internal/client"
	"github.com/hearthhq/hearth/internal/config"
	"github.com/hearthhq/hearth/internal/events"
)

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Household management client with offline-first sync",
	Long: `Hearth keeps your household's lists, recipes and chores available
offline and synchronizes local changes to the server in the background.
Writes always succeed immediately; transmission, retry and conflict
handling happen asynchronously.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initClient()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if apiClient != nil {
			return apiClient.Close()
		}
		return nil
	},
}

var (
	cfgFile    string
	logLevel   string
	jsonOutput bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file path (default searches ./hearth.json, ~/.config/hearth)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output machine-readable JSON")
}

func initClient() error {
	var err error
	cfg, err = config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err = events.NewLogger(events.ParseLevel(cfg.Log.Level), cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return err
	}

	apiClient, err = client.New(cfg, logger)
	return err
}

// Output helpers

func printInfo(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("✗"), fmt.Sprintf(format, args...))
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("marshal output: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}
