package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"batchflow/internal/logs"
	"batchflow/internal/notifications"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var batchRef string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log lines, optionally following new output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logFilePath(cfg)
			match := func(string) bool { return true }
			if batchRef != "" {
				// console lines carry only the short batch ID
				needle := shortID(strings.TrimSpace(batchRef))
				match = func(line string) bool { return strings.Contains(line, needle) }
			}

			recent, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			filtered := make([]string, 0, len(recent))
			for _, line := range recent {
				if match(line) {
					filtered = append(filtered, line)
				}
			}
			if !follow {
				return ctx.respond(cmd, map[string]any{"path": path, "lines": filtered}, func(out io.Writer) error {
					for _, line := range filtered {
						fmt.Fprintln(out, line)
					}
					return nil
				})
			}

			out := cmd.OutOrStdout()
			for _, line := range filtered {
				fmt.Fprintln(out, line)
			}
			return logs.Follow(cmd.Context(), path, offset, 0, func(line string) {
				if match(line) {
					fmt.Fprintln(out, line)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&batchRef, "batch", "", "Only show lines mentioning this batch ID or prefix")
	return cmd
}

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	notifyCmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification utilities",
	}
	notifyCmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification to the configured ntfy topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifications.NtfyTopic == "" {
				return fmt.Errorf("notifications.ntfy_topic is not set")
			}
			if err := notifications.NewService(cfg).Test(cmd.Context()); err != nil {
				return err
			}
			return ctx.respond(cmd, map[string]string{"topic": cfg.Notifications.NtfyTopic}, func(out io.Writer) error {
				fmt.Fprintf(out, "Sent test notification to %s\n", cfg.Notifications.NtfyTopic)
				return nil
			})
		},
	})
	return notifyCmd
}
