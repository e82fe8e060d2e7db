package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"tasklane/config"
	"tasklane/domain"
	"tasklane/events"
)

func watchCmd(g *globalFlags) *cobra.Command {
	var (
		redisConn string
		channel   string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow task status change events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.RedisConfig{ConnectionString: redisConn}.RedisOptions()
			if err != nil {
				return err
			}
			rc := redis.NewClient(opts)
			defer rc.Close()
			if err := rc.Ping(cmd.Context()).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			out := cmd.OutOrStdout()
			events.Subscribe(cmd.Context(), g.logger(), rc, channel, func(ev domain.StatusChangedEvent) {
				if asJSON {
					line, err := sonic.MarshalString(ev)
					if err == nil {
						fmt.Fprintln(out, line)
					}
					return
				}
				fmt.Fprintln(out, formatEvent(ev))
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&redisConn, "redis", envOr("REDIS_CONNECTION_STRING", "redis://localhost:6379"), "redis connection string")
	cmd.Flags().StringVar(&channel, "channel", envOr("STATUS_CHANNEL", events.DefaultChannel), "pub/sub channel")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw events")
	return cmd
}

func formatEvent(ev domain.StatusChangedEvent) string {
	at := time.Unix(0, ev.Timestamp).UTC().Format(time.RFC3339)
	src := string(ev.Source)
	if src == "" {
		src = "-"
	}
	return fmt.Sprintf("%s %s %s: %s -> %s (%s)", at, ev.UserID, ev.TaskID, ev.From, ev.To, src)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
