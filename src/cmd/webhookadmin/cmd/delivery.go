package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect delivery history",
}

var deliveryListCmd = &cobra.Command{
	Use:   "list <webhookId>",
	Short: "List delivery attempts recorded for a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		page, _ := c.Flags().GetInt("page")
		limit, _ := c.Flags().GetInt("limit")

		rows, total, err := historyStore().ListForWebhook(id, page, limit)
		if err != nil {
			return err
		}
		fmt.Printf("total=%d\n", total)
		for _, row := range rows {
			status := "-"
			if row.StatusCode != nil {
				status = fmt.Sprintf("%d", *row.StatusCode)
			}
			fmt.Printf("%-36s event=%-20s attempt=%-2d success=%-5v status=%-4s durationMs=%d\n",
				row.ID, row.Event, row.Attempt, row.Success, status, row.DurationMs)
		}
		return nil
	},
}

func init() {
	deliveryListCmd.Flags().Int("page", 1, "page number")
	deliveryListCmd.Flags().Int("limit", 20, "page size")

	deliveryCmd.AddCommand(deliveryListCmd)
	rootCmd.AddCommand(deliveryCmd)
}
