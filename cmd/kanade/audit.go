package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kanade/internal/audit"
)

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent debounce cycle outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := audit.Open(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer log.Close()

			entries, err := log.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no recorded cycles")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-24s %-12s %dms",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Session, e.Outcome, e.LatencyMs)
				if e.Detail != "" {
					line += "  " + e.Detail
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
