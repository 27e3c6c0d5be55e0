// Package slack posts the weekly plan and shopping list to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mealplanner"
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	webhookURL string
	httpClient doer
}

func NewClient(webhookURL string, httpClient doer) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		webhookURL: webhookURL,
		httpClient: httpClient,
	}
}

func (c *Client) PostMessage(ctx context.Context, channel string, message string) error {
	payload, err := json.Marshal(map[string]any{
		"channel": channel,
		"text":    message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to post message: %s", resp.Status)
	}
	return nil
}

// PostPlan sends the rendered plan for state to channel.
func PostPlan(ctx context.Context, client mealplanner.SlackClient, channel string, state *mealplanner.PlannerState) error {
	return client.PostMessage(ctx, channel, FormatPlan(state))
}

// FormatPlan renders the meal plan and shopping list as Slack mrkdwn.
func FormatPlan(state *mealplanner.PlannerState) string {
	var b strings.Builder

	if len(state.MealPlan) == 0 {
		b.WriteString("*No meal plan this week*: no grocery deals were found.\n")
	} else {
		fmt.Fprintf(&b, "*Dinner plan* (deals from %s)\n", state.ChosenStore)
		for _, meal := range state.MealPlan {
			fmt.Fprintf(&b, "• %s", meal.MealName)
			if meal.Notes != "" {
				fmt.Fprintf(&b, " _(%s)_", meal.Notes)
			}
			b.WriteString("\n")
		}
	}

	if state.ShoppingList == nil || state.ShoppingList.Len() == 0 {
		return b.String()
	}

	b.WriteString("\n*Shopping list*\n")
	for _, store := range state.ShoppingList.Stores() {
		var total float64
		items := state.ShoppingList.Items(store)
		fmt.Fprintf(&b, "_%s_\n", store)
		for _, it := range items {
			total += it.Price
			fmt.Fprintf(&b, "• %s: %.2f %s\n", it.Name, it.Price, it.Currency)
		}
		fmt.Fprintf(&b, "Subtotal: %.2f %s\n", total, items[0].Currency)
	}
	return b.String()
}
