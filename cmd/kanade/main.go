package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"kanade/internal/config"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "kanade",
		Short: "kanade: a debounced LLM chat companion",
		Long:  "kanade keeps bounded chat history per conversation and answers in character once a conversation goes quiet after mentioning it.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.kanade/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (config.Config, error) {
	return config.Load(resolveConfigPath())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("kanade", version)
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config, prompt templates, and character card",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()
			cfgPath := resolveConfigPath()

			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Session.Dir, 0o755); err != nil {
				return err
			}
			if err := writeIfAbsent(cfg.Query.CharacterPath, defaultCharacterCard); err != nil {
				return err
			}
			if err := writeIfAbsent(cfg.Query.SystemPrompts.GroupChat, defaultGroupPrompt); err != nil {
				return err
			}
			if err := writeIfAbsent(cfg.Query.SystemPrompts.PrivateChat, defaultPrivatePrompt); err != nil {
				return err
			}

			logger.Info("initialized", "config", cfgPath, "sessions", cfg.Session.Dir)
			return nil
		},
	}
}

func writeIfAbsent(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

const defaultCharacterCard = `name: Kanade
alias:
  - kanade
info: |
  A soft-spoken companion who keeps the conversation going without taking it
  over. Answers briefly, warmly, and in the language of the chat.
`

const defaultGroupPrompt = `system: |
  You are {name} (also called {alias}) in a group chat. Current time: {time}.
  {character_info}
  You will receive the recent chat log. Reply as yourself in one or a few
  short lines; each line is sent as a separate message.
`

const defaultPrivatePrompt = `system: |
  You are {name} (also called {alias}) in a one-on-one chat. Current time: {time}.
  {character_info}
  You will receive the recent chat log. Reply as yourself in one or a few
  short lines; each line is sent as a separate message.
`
