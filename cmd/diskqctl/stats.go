package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatsCmd())
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use: "stats",
		Short: "Print the CSV counter dump from the STATS control command",
		Long: `stats sends STATS over the control socket and prints one CSV row per
registered queue: cluster_key,queued,memory_bytes,disk_used,disk_alloc,capacity_kib,dropped.

Example:
  diskqctl stats --socket /var/run/corelogd/control.sock`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := sendCommand("STATS")
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			printLines(lines)
			return nil
		},
	}
}
