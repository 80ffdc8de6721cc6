package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ferriqa/webhooks/src/internal/webhook"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage webhook subscriptions",
}

var (
	createName   string
	createURL    string
	createEvents []string
	createSecret string
	createHeader []string
)

var webhookCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new webhook subscription",
	RunE: func(c *cobra.Command, args []string) error {
		headers, err := parseHeaders(createHeader)
		if err != nil {
			return err
		}
		wh, err := registry().Create(webhook.CreateWebhookInput{
			Name:    createName,
			URL:     createURL,
			Events:  createEvents,
			Secret:  createSecret,
			Headers: headers,
		})
		if err != nil {
			return err
		}
		return printWebhook(*wh)
	},
}

var webhookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List webhook subscriptions",
	RunE: func(c *cobra.Command, args []string) error {
		page, _ := c.Flags().GetInt("page")
		limit, _ := c.Flags().GetInt("limit")
		event, _ := c.Flags().GetString("event")

		rows, total, err := registry().Query(webhook.QueryFilter{Page: page, Limit: limit, Event: event})
		if err != nil {
			return err
		}
		fmt.Printf("total=%d\n", total)
		for _, wh := range rows {
			fmt.Printf("%-4d %-30s %-40s active=%v\n", wh.ID, wh.Name, wh.URL, wh.IsActive)
		}
		return nil
	},
}

var webhookShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a webhook subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		wh, err := registry().GetByID(id)
		if err != nil {
			return err
		}
		return printWebhook(*wh)
	},
}

var (
	updateName     string
	updateURL      string
	updateEvents   []string
	updateSecret   string
	updateHeader   []string
	updateActiveOn bool
	updateInactive bool
)

var webhookUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Partially update a webhook subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		patch := webhook.UpdateWebhookInput{}
		if c.Flags().Changed("name") {
			patch.Name = &updateName
		}
		if c.Flags().Changed("url") {
			patch.URL = &updateURL
		}
		if c.Flags().Changed("event") {
			patch.Events = updateEvents
		}
		if c.Flags().Changed("secret") {
			patch.Secret = &updateSecret
		}
		if c.Flags().Changed("header") {
			headers, err := parseHeaders(updateHeader)
			if err != nil {
				return err
			}
			patch.Headers = headers
		}
		if updateActiveOn {
			t := true
			patch.IsActive = &t
		}
		if updateInactive {
			f := false
			patch.IsActive = &f
		}
		wh, err := registry().Update(id, patch)
		if err != nil {
			return err
		}
		return printWebhook(*wh)
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a webhook subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := registry().Delete(id); err != nil {
			return err
		}
		fmt.Printf("deleted webhook %d\n", id)
		return nil
	},
}

var webhookTestCmd = &cobra.Command{
	Use:   "test <id> <event>",
	Short: "Send a single synchronous test delivery, bypassing the retry queue",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		payload, _ := c.Flags().GetString("data")
		var data interface{}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &data); err != nil {
				return fmt.Errorf("invalid --data JSON: %w", err)
			}
		}
		result, err := dispatcher().Test(c.Context(), id, args[1], data)
		if err != nil {
			return err
		}
		fmt.Printf("deliveryId=%s success=%v statusCode=%d durationMs=%d\n",
			result.DeliveryID, result.Success, result.StatusCode, result.DurationMs)
		if result.Error != "" {
			fmt.Printf("error=%s\n", result.Error)
		}
		return nil
	},
}

func init() {
	webhookCreateCmd.Flags().StringVar(&createName, "name", "", "webhook name")
	webhookCreateCmd.Flags().StringVar(&createURL, "url", "", "target URL")
	webhookCreateCmd.Flags().StringSliceVar(&createEvents, "event", nil, "event name (repeatable)")
	webhookCreateCmd.Flags().StringVar(&createSecret, "secret", "", "HMAC signing secret")
	webhookCreateCmd.Flags().StringSliceVar(&createHeader, "header", nil, "key=value custom header (repeatable)")
	_ = webhookCreateCmd.MarkFlagRequired("name")
	_ = webhookCreateCmd.MarkFlagRequired("url")

	webhookListCmd.Flags().Int("page", 1, "page number")
	webhookListCmd.Flags().Int("limit", 20, "page size")
	webhookListCmd.Flags().String("event", "", "filter by subscribed event")

	webhookUpdateCmd.Flags().StringVar(&updateName, "name", "", "new name")
	webhookUpdateCmd.Flags().StringVar(&updateURL, "url", "", "new URL")
	webhookUpdateCmd.Flags().StringSliceVar(&updateEvents, "event", nil, "replace the subscribed events (repeatable)")
	webhookUpdateCmd.Flags().StringVar(&updateSecret, "secret", "", "new signing secret")
	webhookUpdateCmd.Flags().StringSliceVar(&updateHeader, "header", nil, "replace custom headers (repeatable key=value)")
	webhookUpdateCmd.Flags().BoolVar(&updateActiveOn, "activate", false, "mark the webhook active")
	webhookUpdateCmd.Flags().BoolVar(&updateInactive, "deactivate", false, "mark the webhook inactive")

	webhookTestCmd.Flags().String("data", "", "JSON payload for the test event")

	webhookCmd.AddCommand(webhookCreateCmd, webhookListCmd, webhookShowCmd, webhookUpdateCmd, webhookDeleteCmd, webhookTestCmd)
	rootCmd.AddCommand(webhookCmd)
}

func parseID(raw string) (uint, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid webhook id %q: %w", raw, err)
	}
	return uint(n), nil
}

func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --header %q, expected key=value", pair)
		}
		headers[key] = value
	}
	return headers, nil
}

func printWebhook(wh webhook.Webhook) error {
	var events []string
	_ = json.Unmarshal([]byte(wh.Events), &events)
	fmt.Printf("id=%d name=%s url=%s active=%v events=%s createdAt=%s\n",
		wh.ID, wh.Name, wh.URL, wh.IsActive, strings.Join(events, ","), wh.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
