package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"kanade/internal/session"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and daemon metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			driver := cfg.Channels.Driver
			if driver == "" {
				driver = "onebot"
			}
			fmt.Printf("config:    %s\n", resolveConfigPath())
			fmt.Printf("channel:   %s\n", driver)
			fmt.Printf("model:     %s\n", cfg.LLM.Model)
			fmt.Printf("scheduler: poll %ds, quiet %ds\n", cfg.Scheduler.PollSeconds, cfg.Scheduler.QuietSeconds)
			fmt.Printf("sessions:  %s (max %d entries each)\n", cfg.Session.Dir, cfg.Session.MaxHistory)

			store, err := session.NewStore(cfg.Session.Dir, cfg.Session.MaxHistory, logger)
			if err != nil {
				return err
			}
			store.LoadAll()
			fmt.Printf("stored:    %d session(s)\n", len(store.Keys()))

			if cfg.Metrics.Addr == "" {
				return nil
			}

			// The metrics live in the running daemon, not this process.
			client := &http.Client{Timeout: 3 * time.Second}
			resp, err := client.Get("http://" + cfg.Metrics.Addr + "/")
			if err != nil {
				fmt.Printf("metrics:   %s unreachable (%v)\n", cfg.Metrics.Addr, err)
				return nil
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Printf("\nmetrics from %s:\n%s", cfg.Metrics.Addr, body)
			return nil
		},
	}
}
