package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mealplanner"
	"mealplanner/llm"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

const defaultMealNotes = "Serves 2"

type strategistDeal struct {
	ID                  int     `json:"id"`
	Name                string  `json:"name"`
	CurrentPrice        float64 `json:"current_price"`
	PreviousPrice       float64 `json:"previous_price"`
	PriceDropPercentage float64 `json:"price_drop_percentage"`
}

type strategistStore struct {
	Store string           `json:"store"`
	Deals []strategistDeal `json:"deals"`
}

type strategistInput struct {
	Days              int               `json:"days"`
	OnHandIngredients []string          `json:"on_hand_ingredients"`
	Stores            []strategistStore `json:"stores"`
}

type strategistDealRef struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

type strategistMeal struct {
	MealName   string              `json:"meal_name"`
	DealsUsed  []strategistDealRef `json:"deals_used"`
	OnHandUsed []string            `json:"on_hand_used"`
	Notes      string              `json:"notes"`
}

type strategistOutput struct {
	ChosenStore        string           `json:"chosen_store"`
	MealPlan           []strategistMeal `json:"meal_plan"`
	MissingIngredients []string         `json:"missing_ingredients"`
}

var strategistSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"chosen_store", "meal_plan", "missing_ingredients"},
	Properties: map[string]*jsonschema.Schema{
		"chosen_store": {Type: "string", Description: "exact store name from the input"},
		"meal_plan": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"meal_name", "deals_used", "on_hand_used", "notes"},
				Properties: map[string]*jsonschema.Schema{
					"meal_name": {Type: "string"},
					"deals_used": {
						Type: "array",
						Items: &jsonschema.Schema{
							Type:     "object",
							Required: []string{"id"},
							Properties: map[string]*jsonschema.Schema{
								"id":   {Type: "integer"},
								"name": {Type: "string"},
							},
						},
					},
					"on_hand_used": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
					"notes":        {Type: "string"},
				},
			},
		},
		"missing_ingredients": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
	},
}

// MealStrategist picks one store and plans the week's dinners around its deals.
type MealStrategist struct {
	llm           mealplanner.Completer
	minStoreDeals int
}

func NewMealStrategist(completer mealplanner.Completer, minStoreDeals int) *MealStrategist {
	if minStoreDeals < 1 {
		minStoreDeals = 1
	}
	return &MealStrategist{llm: completer, minStoreDeals: minStoreDeals}
}

func (s *MealStrategist) Name() string { return mealplanner.StageMealStrategist }

func (s *MealStrategist) Run(ctx context.Context, state *mealplanner.PlannerState) (mealplanner.StageMeta, error) {
	meta := mealplanner.StageMeta{Stage: s.Name()}

	if len(state.FoundDeals) == 0 {
		slog.Warn("MEAL_STRATEGIST: No deals found, skipping planning")
		state.ChosenStore = ""
		state.MealPlan = []mealplanner.MealPlanItem{}
		state.MissingIngredients = []string{}
		meta.Skipped = "no deals found"
		return meta, nil
	}

	storeOrder, byStore := mealplanner.DealsByStore(state.FoundDeals)
	offered := OfferedStores(storeOrder, byStore, s.minStoreDeals)

	input := strategistInput{
		Days:              mealplanner.PlanDays,
		OnHandIngredients: state.OnHandIngredients,
		Stores:            make([]strategistStore, 0, len(offered)),
	}
	for _, store := range offered {
		ss := strategistStore{Store: store}
		for _, d := range byStore[store] {
			ss.Deals = append(ss.Deals, strategistDeal{
				ID:                  d.ID,
				Name:                d.Name,
				CurrentPrice:        d.CurrentPrice,
				PreviousPrice:       d.PreviousPrice,
				PriceDropPercentage: d.PriceDropPercentage,
			})
		}
		input.Stores = append(input.Stores, ss)
	}
	slog.Info("MEAL_STRATEGIST: Offering stores", "offered", offered, "total_stores", len(storeOrder), "min_store_deals", s.minStoreDeals)

	system, err := render("meal_strategist.system", input)
	if err != nil {
		return meta, err
	}
	prompt, err := render("meal_strategist.prompt", input)
	if err != nil {
		return meta, err
	}
	meta.LLMInput = prompt

	out, completion, err := llm.Structured[strategistOutput](ctx, s.llm, mealplanner.CompletionRequest{
		Stage:  s.Name(),
		System: system,
		Prompt: prompt,
		Schema: strategistSchema,
	})
	meta.Usage = completion.Usage
	meta.LLMOutput = completion.Content
	if err != nil {
		return meta, err
	}

	chosen, ok := matchStore(out.ChosenStore, offered)
	if !ok {
		return meta, fmt.Errorf("%w: chosen store %q is not one of %v", mealplanner.ErrContractViolation, out.ChosenStore, offered)
	}
	if len(out.MealPlan) != mealplanner.PlanDays {
		return meta, fmt.Errorf("%w: got %d meals, want %d", mealplanner.ErrContractViolation, len(out.MealPlan), mealplanner.PlanDays)
	}

	plan := resolveMeals(out.MealPlan, chosen, state.FoundDeals)
	missing := missingIngredients(out.MissingIngredients, state.OnHandIngredients, state.FoundDeals)

	state.ChosenStore = chosen
	state.MealPlan = plan
	state.MissingIngredients = missing

	slog.Info("MEAL_STRATEGIST: Planned week", "chosen_store", chosen, "meals", len(plan), "missing", len(missing))
	return meta, nil
}

// OfferedStores returns the stores with at least min deals, in first-encounter order. When none
// qualifies, the store with the most deals is offered alone (ties go to the first encountered).
func OfferedStores(order []string, byStore map[string][]mealplanner.DealInfo, min int) []string {
	var offered []string
	for _, store := range order {
		if len(byStore[store]) >= min {
			offered = append(offered, store)
		}
	}
	if len(offered) > 0 || len(order) == 0 {
		return offered
	}

	best := order[0]
	for _, store := range order[1:] {
		if len(byStore[store]) > len(byStore[best]) {
			best = store
		}
	}
	return []string{best}
}

// matchStore finds name among offered, exactly or ignoring case and surrounding space.
func matchStore(name string, offered []string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, s := range offered {
		if s == name {
			return s, true
		}
	}
	for _, s := range offered {
		if normalize(s) == normalize(name) {
			return s, true
		}
	}
	return "", false
}

// resolveMeals maps the model's deal references onto the deals found at the chosen store. References
// to unknown ids or to other stores are dropped.
func resolveMeals(meals []strategistMeal, chosen string, found []mealplanner.DealInfo) []mealplanner.MealPlanItem {
	byID := make(map[int]mealplanner.DealInfo, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}

	plan := make([]mealplanner.MealPlanItem, 0, len(meals))
	for i, m := range meals {
		item := mealplanner.MealPlanItem{
			MealName:   strings.TrimSpace(m.MealName),
			DealsUsed:  []mealplanner.DealInfo{},
			OnHandUsed: cleanNames(m.OnHandUsed),
			Notes:      strings.TrimSpace(m.Notes),
		}
		if item.MealName == "" {
			item.MealName = fmt.Sprintf("Day %d", i+1)
		}
		if item.Notes == "" {
			item.Notes = defaultMealNotes
		}

		seen := make(map[int]struct{})
		for _, ref := range m.DealsUsed {
			d, ok := byID[ref.ID]
			if !ok {
				slog.Warn("MEAL_STRATEGIST: Dropping unknown deal", "meal", item.MealName, "deal_id", ref.ID)
				continue
			}
			if d.Store != chosen {
				slog.Warn("MEAL_STRATEGIST: Dropping deal from other store", "meal", item.MealName, "deal_id", d.ID, "store", d.Store, "chosen_store", chosen)
				continue
			}
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			item.DealsUsed = append(item.DealsUsed, d)
		}
		plan = append(plan, item)
	}
	return plan
}

// missingIngredients cleans the model's list and removes anything already on hand or found as a deal.
func missingIngredients(names, onHand []string, found []mealplanner.DealInfo) []string {
	have := make(map[string]struct{}, len(onHand)+len(found))
	for _, n := range onHand {
		have[normalize(n)] = struct{}{}
	}
	for _, d := range found {
		have[normalize(d.Name)] = struct{}{}
	}

	out := make([]string, 0, len(names))
	for _, n := range cleanNames(names) {
		if _, ok := have[normalize(n)]; ok {
			continue
		}
		out = append(out, n)
	}
	return out
}
