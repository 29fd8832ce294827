package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kanade/internal/domain"
	"kanade/internal/session"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored conversation history",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsClearCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func openStore() (*session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := session.NewStore(cfg.Session.Dir, cfg.Session.MaxHistory, logger)
	if err != nil {
		return nil, err
	}
	store.LoadAll()
	return store, nil
}

func parseKey(args []string) (domain.SessionKey, error) {
	kind := domain.SessionKind(args[0])
	if !kind.Valid() {
		return domain.SessionKey{}, fmt.Errorf("kind must be private or group, got %q", args[0])
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id <= 0 {
		return domain.SessionKey{}, fmt.Errorf("id must be a positive integer, got %q", args[1])
	}
	return domain.SessionKey{Kind: kind, ID: id}, nil
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			keys := store.Keys()
			sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
			for _, key := range keys {
				sess, _ := store.Get(key)
				fmt.Printf("%-24s %d message(s)\n", key.String(), sess.Len())
			}
			if len(keys) == 0 {
				fmt.Println("no stored sessions")
			}
			return nil
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <private|group> <id>",
		Short: "Print a session's history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			sess, ok := store.Get(key)
			if !ok {
				return fmt.Errorf("no session %s", key.String())
			}
			for _, msg := range sess.Messages() {
				fmt.Printf("[%s] %s(%d):\n",
					time.Unix(msg.Time, 0).Format("2006-01-02 15:04:05"), msg.SenderName, msg.SenderID)
				for _, seg := range msg.Segments {
					switch seg.Type {
					case domain.SegmentText:
						fmt.Printf("  %s\n", seg.Text)
					case domain.SegmentImage:
						fmt.Printf("  [image %s (%s)]\n", seg.Image.URL, seg.Image.Detail)
					}
				}
			}
			return nil
		},
	}
}

func sessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <private|group> <id>",
		Short: "Empty a session's history, keeping the session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			sess, ok := store.Get(key)
			if !ok {
				return fmt.Errorf("no session %s", key.String())
			}
			store.Clear(sess)
			fmt.Printf("cleared %s\n", key.String())
			return nil
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <private|group> <id>",
		Short: "Remove a session and its stored record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			store.Delete(key)
			fmt.Printf("deleted %s\n", key.String())
			return nil
		},
	}
}
