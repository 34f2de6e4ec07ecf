package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/memohai/coinbot/internal/config"
	"github.com/memohai/coinbot/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "coinbot",
		Short:        "Chat bot for the Coin ledger on Telegram and Discord",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config.toml)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Connect to the chat transports and serve commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(resolveConfigPath(configPath))
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "coinbot", version.GetInfo())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(redact(cfg))
		},
	})
	return root
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CONFIG_PATH")
}

func redact(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&cfg.Telegram.BotToken)
	mask(&cfg.Discord.BotToken)
	mask(&cfg.Download.ReceiverCard)
	mask(&cfg.Download.ReceiverSession)
	mask(&cfg.Download.ReceiverPassword)
	for _, dsn := range []*string{&cfg.Storage.AccountsDSN, &cfg.Storage.QueueDSN} {
		if u, err := url.Parse(*dsn); err == nil && u.User != nil {
			*dsn = u.Redacted()
		}
	}
	return cfg
}
