// Package mock provides a deterministic Completer that answers each stage from the JSON input embedded
// in its prompt. It needs no network and no credentials.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"mealplanner"
)

const ModelID = "mock"

var (
	defaultTerms = []string{
		"kyllingfilet", "kjøttdeig", "laksefilet", "torsk", "svinekoteletter",
		"potet", "gulrot", "løk", "brokkoli", "pasta", "ris", "tomat",
	}
	defaultStaples = []string{"hvitløk", "olivenolje", "melk", "smør", "mel"}
)

type Client struct{}

func NewClient() *Client {
	return &Client{}
}

// Complete answers req by looking at the last ```json block of the prompt. The reply depends only on
// that input.
func (c *Client) Complete(ctx context.Context, req mealplanner.CompletionRequest) (mealplanner.Completion, error) {
	if err := ctx.Err(); err != nil {
		return mealplanner.Completion{}, err
	}
	slog.Info("LLM_CLIENT: Invoked", "provider", ModelID, "stage", req.Stage, "prompt_len", len(req.Prompt))

	input := lastJSONBlock(req.Prompt)

	var reply any
	var err error
	switch req.Stage {
	case mealplanner.StageDealHunter:
		reply, err = dealHunter(input)
	case mealplanner.StageMealStrategist:
		reply, err = mealStrategist(input)
	case mealplanner.StageBargainScout:
		reply, err = bargainScout(input)
	default:
		return mealplanner.Completion{}, fmt.Errorf("mock: no canned response for stage %q", req.Stage)
	}
	if err != nil {
		return mealplanner.Completion{}, fmt.Errorf("mock: %s: %w", req.Stage, err)
	}

	b, err := json.Marshal(reply)
	if err != nil {
		return mealplanner.Completion{}, fmt.Errorf("failed to marshal mock response: %w", err)
	}
	return mealplanner.Completion{
		Content: string(b),
		Usage: mealplanner.TokenUsage{
			PromptTokens:     approxTokens(req.System) + approxTokens(req.Prompt),
			CompletionTokens: approxTokens(string(b)),
			Model:            ModelID,
		},
	}, nil
}

func dealHunter(input []byte) (any, error) {
	var in struct {
		OnHand   []string `json:"on_hand_ingredients"`
		MaxTerms int      `json:"max_terms"`
	}
	if err := unmarshalInput(input, &in); err != nil {
		return nil, err
	}

	onHand := toSet(in.OnHand)
	terms := make([]string, 0, len(defaultTerms))
	for _, t := range defaultTerms {
		if _, ok := onHand[t]; ok {
			continue
		}
		if in.MaxTerms > 0 && len(terms) == in.MaxTerms {
			break
		}
		terms = append(terms, t)
	}
	return map[string]any{"search_terms": terms}, nil
}

func mealStrategist(input []byte) (any, error) {
	var in struct {
		Days   int      `json:"days"`
		OnHand []string `json:"on_hand_ingredients"`
		Stores []struct {
			Store string `json:"store"`
			Deals []struct {
				ID   int    `json:"id"`
				Name string `json:"name"`
			} `json:"deals"`
		} `json:"stores"`
	}
	if err := unmarshalInput(input, &in); err != nil {
		return nil, err
	}
	if len(in.Stores) == 0 {
		return nil, fmt.Errorf("no stores offered")
	}
	if in.Days <= 0 {
		in.Days = mealplanner.PlanDays
	}

	// the store with the most deals, first on ties
	best := 0
	for i, s := range in.Stores {
		if len(s.Deals) > len(in.Stores[best].Deals) {
			best = i
		}
	}
	store := in.Stores[best]

	meals := make([]map[string]any, 0, in.Days)
	for day := 0; day < in.Days; day++ {
		used := []map[string]any{}
		name := fmt.Sprintf("Day %d: Pantry dinner", day+1)
		if len(store.Deals) > 0 {
			d := store.Deals[day%len(store.Deals)]
			used = append(used, map[string]any{"id": d.ID, "name": d.Name})
			name = fmt.Sprintf("Day %d: %s dinner", day+1, d.Name)
		}
		onHandUsed := []string{}
		if len(in.OnHand) > 0 {
			onHandUsed = append(onHandUsed, in.OnHand[day%len(in.OnHand)])
		}
		meals = append(meals, map[string]any{
			"meal_name":    name,
			"deals_used":   used,
			"on_hand_used": onHandUsed,
			"notes":        "Serves 2",
		})
	}

	onHand := toSet(in.OnHand)
	missing := []string{}
	for _, s := range defaultStaples {
		if _, ok := onHand[s]; !ok {
			missing = append(missing, s)
		}
	}

	return map[string]any{
		"chosen_store":        store.Store,
		"meal_plan":           meals,
		"missing_ingredients": missing,
	}, nil
}

func bargainScout(input []byte) (any, error) {
	var in struct {
		Ingredients []struct {
			Name       string `json:"ingredient_name"`
			Candidates []struct {
				ProductID int `json:"product_id"`
			} `json:"candidates"`
		} `json:"ingredients"`
	}
	if err := unmarshalInput(input, &in); err != nil {
		return nil, err
	}

	picks := []map[string]any{}
	for _, ing := range in.Ingredients {
		if len(ing.Candidates) == 0 {
			continue
		}
		picks = append(picks, map[string]any{
			"ingredient_name": ing.Name,
			"product_id":      ing.Candidates[0].ProductID,
		})
	}
	return map[string]any{"picks": picks}, nil
}

// lastJSONBlock returns the body of the last ```json fenced block in s, or nil.
func lastJSONBlock(s string) []byte {
	const open = "```json"
	start := strings.LastIndex(s, open)
	if start < 0 {
		return nil
	}
	body := s[start+len(open):]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return []byte(strings.TrimSpace(body))
}

func unmarshalInput(input []byte, v any) error {
	if len(input) == 0 {
		return fmt.Errorf("prompt has no json input block")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("failed to decode prompt input: %w", err)
	}
	return nil
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return out
}

func approxTokens(s string) int {
	return (len(s) + 3) / 4
}
