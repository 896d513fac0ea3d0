package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the pending write queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued writes awaiting confirmation",
	RunE:  runQueueList,
}

var queueClearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Remove permanently failed writes",
	RunE:  runQueueClearFailed,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearFailedCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	writes, err := apiClient.Sync.Writes()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(writes)
		return nil
	}

	if len(writes) == 0 {
		printInfo("Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tOP\tTARGET\tSTATUS\tATTEMPTS\tQUEUED")
	for _, write := range writes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			write.ID,
			write.EntityType,
			write.Operation,
			write.TargetID(),
			write.Status,
			write.AttemptCount,
			write.ClientTimestamp.Local().Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func runQueueClearFailed(cmd *cobra.Command, args []string) error {
	cleared, err := apiClient.Sync.ClearFailed()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"cleared": cleared})
	} else {
		printInfo("Cleared %d permanently failed write(s)", cleared)
	}
	return nil
}
