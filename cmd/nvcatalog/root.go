package main

import (
	"fmt"

	"github.com/nairobi-verified/marketplace-client/pkg/client"
	"github.com/nairobi-verified/marketplace-client/pkg/config"
	"github.com/nairobi-verified/marketplace-client/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	envFile    string
	apiURL     string
	logLevel   string

	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "nvcatalog",
		Short: "Browse the Nairobi Verified marketplace catalog",
		Long: `nvcatalog searches and filters products and merchants of the Nairobi
Verified marketplace. Searches shorter than 3 characters are not sent, price
bounds at 0 and 200000 KES are left out of the request, and pages hold 12 or
24 items.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.init(cmd) },
		PersistentPostRun: func(*cobra.Command, []string) { _ = logging.Close() },
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.StringVar(&a.apiURL, "api-url", "", "marketplace API base URL (overrides "+config.EnvAPIURL+")")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newServeCmd(a),
		newProductsCmd(a),
		newMerchantsCmd(a),
		newExportCmd(a),
		newBrowseCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.API.BaseURL = a.apiURL
	}
	if a.logLevel != "" {
		cfg.Log.Level = logging.LogLevel(a.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	cfg.Log.Output = cmd.ErrOrStderr()
	a.logger = logging.Setup(cfg.Log).With().Str("component", "nvcatalog").Logger()
	a.cfg = cfg
	return nil
}

func (a *app) newClient() (*client.Client, error) {
	c, err := client.New(a.cfg.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("create marketplace client: %w", err)
	}
	return c, nil
}
