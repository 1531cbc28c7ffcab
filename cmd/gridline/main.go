package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/gridline/internal/app"
	"github.com/foxzi/gridline/internal/config"
)

var (
	cfgFile   string
	envFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridline",
	Short: "Gridline - production listing extractor",
	Long: `Gridline turns Production Weekly PDFs into spreadsheet-ready project
rows and a company contact index using a hosted language model.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web UI and HTTP API",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gridline version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig reads the dotenv file and the YAML config
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(context.Background(), cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Listen:   %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Provider: %s\n", cfg.LLM.Provider)
	if cfg.LLM.Model != "" {
		fmt.Printf("  Model:    %s\n", cfg.LLM.Model)
	}
	fmt.Printf("  API key:  %s\n", present(cfg.LLM.APIKey != ""))
	fmt.Printf("  Storage:  %s (history of %d)\n", cfg.Storage.Path, cfg.Storage.HistoryLimit)
	fmt.Printf("  Workers:  %d\n", cfg.Jobs.Workers)
	fmt.Printf("  Cache:    %s\n", enabled(cfg.Cache.Enabled, cfg.Cache.Addr))
	fmt.Printf("  Metrics:  %s\n", enabled(cfg.Metrics.Enabled, cfg.Metrics.ListenAddr))
	fmt.Printf("  TLS:      %v\n", cfg.HasTLS())

	if cfg.LLM.APIKey == "" {
		fmt.Printf("\nWarning: no model API key configured, extractions will fail\n")
	}

	return nil
}

func present(ok bool) string {
	if ok {
		return "set"
	}
	return "missing"
}

func enabled(on bool, addr string) string {
	if !on {
		return "disabled"
	}
	return addr
}
