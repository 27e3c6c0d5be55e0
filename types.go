package mealplanner

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

// PlanDays is the fixed number of dinners in a weekly plan.
const PlanDays = 7

const (
	StageDealHunter       = "deal_hunter"
	StageMealStrategist   = "meal_strategist"
	StageBargainScout     = "bargain_scout"
	StageListConsolidator = "list_consolidator"
)

// DefaultQuery is used when a request does not carry a query.
const DefaultQuery = "Find common dinner ingredients in Norway with recent price drops to help plan meals."

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type SlackClient interface {
	PostMessage(ctx context.Context, channel string, message string) error
}

// TokenUsage tracks the tokens consumed by a completion.
type TokenUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Model            string `json:"model,omitempty"`
}

// CompletionRequest is a single prompt sent to a language model. Schema, when set, describes the JSON
// document the caller expects back.
type CompletionRequest struct {
	Stage  string
	System string
	Prompt string
	Schema *jsonschema.Schema
}

// Completion is the raw model output for a CompletionRequest.
type Completion struct {
	Content string
	Usage   TokenUsage
}

// Completer is the capability every LLM provider offers to the pipeline.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// Stage is one step of the planning pipeline. A stage reads the fields written by earlier stages and
// writes only its own.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *PlannerState) (StageMeta, error)
}

// StageMeta holds operational metadata for one stage execution.
type StageMeta struct {
	Stage     string        `json:"stage"`
	Usage     TokenUsage    `json:"usage"`
	Latency   time.Duration `json:"latency"`
	LLMInput  string        `json:"llm_input,omitempty"`
	LLMOutput string        `json:"llm_output,omitempty"`
	Lookups   []LookupLog   `json:"lookups,omitempty"`
	Skipped   string        `json:"skipped,omitempty"`
}

// DealInfo is a product with a confirmed price drop at a specific store.
type DealInfo struct {
	ID                  int     `json:"id"`
	Name                string  `json:"name"`
	CurrentPrice        float64 `json:"current_price"`
	PreviousPrice       float64 `json:"previous_price"`
	PriceDropPercentage float64 `json:"price_drop_percentage"`
	Currency            string  `json:"currency"`
	Store               string  `json:"store"`
	ImageURL            *string `json:"image_url,omitempty"`
}

// MealPlanItem is one dinner of the weekly plan.
type MealPlanItem struct {
	MealName   string     `json:"meal_name"`
	DealsUsed  []DealInfo `json:"deals_used"`
	OnHandUsed []string   `json:"on_hand_used"`
	Notes      string     `json:"notes"`
}

// IngredientPick is the option chosen for one missing ingredient.
type IngredientPick struct {
	IngredientName string   `json:"ingredient_name"`
	ProductID      int      `json:"product_id"`
	ProductName    string   `json:"product_name"`
	Store          string   `json:"store"`
	CurrentPrice   float64  `json:"current_price"`
	Currency       string   `json:"currency"`
	Unit           *string  `json:"unit"`
	PricePerUnit   *float64 `json:"price_per_unit,omitempty"`
	ImageURL       *string  `json:"image_url,omitempty"`
}

// ShoppingListItem is one line of the final shopping list.
type ShoppingListItem struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Notes    string  `json:"notes"`
	ImageURL *string `json:"image_url"`
}

// PlannerState is the accumulator threaded through the pipeline for a single request.
type PlannerState struct {
	InitialQuery            string           `json:"initial_query"`
	OnHandIngredients       []string         `json:"on_hand_ingredients"`
	SearchTerms             []string         `json:"search_terms"`
	FoundDeals              []DealInfo       `json:"found_deals"`
	ChosenStore             string           `json:"chosen_store"`
	MealPlan                []MealPlanItem   `json:"meal_plan"`
	MissingIngredients      []string         `json:"missing_ingredients"`
	CheapestIngredientsInfo []IngredientPick `json:"cheapest_ingredients_info"`
	ShoppingList            *ShoppingList    `json:"shopping_list"`
}

// NewPlannerState returns a state with every list initialised so it encodes as [] rather than null.
func NewPlannerState(query string, onHand []string) *PlannerState {
	if query == "" {
		query = DefaultQuery
	}
	if onHand == nil {
		onHand = []string{}
	}
	return &PlannerState{
		InitialQuery:            query,
		OnHandIngredients:       onHand,
		SearchTerms:             []string{},
		FoundDeals:              []DealInfo{},
		MealPlan:                []MealPlanItem{},
		MissingIngredients:      []string{},
		CheapestIngredientsInfo: []IngredientPick{},
		ShoppingList:            NewShoppingList(),
	}
}

// DealsByStore groups deals by store name, keeping first-encounter order of stores and deals.
func DealsByStore(deals []DealInfo) ([]string, map[string][]DealInfo) {
	var stores []string
	grouped := make(map[string][]DealInfo)
	for _, d := range deals {
		if _, ok := grouped[d.Store]; !ok {
			stores = append(stores, d.Store)
		}
		grouped[d.Store] = append(grouped[d.Store], d)
	}
	return stores, grouped
}
