package agents

import (
	"context"
	"fmt"
	"log/slog"

	"mealplanner"
)

const dealItemNotes = "Deal item"

// Consolidate builds the shopping list from the deals used in the meal plan followed by the scout's
// picks. Deal items are added once each, in meal order, and must belong to chosenStore.
func Consolidate(chosenStore string, mealPlan []mealplanner.MealPlanItem, picks []mealplanner.IngredientPick) (*mealplanner.ShoppingList, error) {
	list := mealplanner.NewShoppingList()

	seen := make(map[int]struct{})
	for _, meal := range mealPlan {
		for _, d := range meal.DealsUsed {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			if d.Store != chosenStore {
				return nil, fmt.Errorf("%w: deal %d in %q is from store %q, not %q",
					mealplanner.ErrContractViolation, d.ID, meal.MealName, d.Store, chosenStore)
			}
			seen[d.ID] = struct{}{}
			list.Add(d.Store, mealplanner.ShoppingListItem{
				Name:     d.Name,
				Price:    d.CurrentPrice,
				Currency: d.Currency,
				Notes:    dealItemNotes,
				ImageURL: d.ImageURL,
			})
		}
	}

	for _, p := range picks {
		list.Add(p.Store, mealplanner.ShoppingListItem{
			Name:     p.ProductName,
			Price:    p.CurrentPrice,
			Currency: p.Currency,
			Notes:    "Staple item for " + p.IngredientName,
			ImageURL: p.ImageURL,
		})
	}
	return list, nil
}

// ListConsolidator is the final stage. It calls no external service.
type ListConsolidator struct{}

func NewListConsolidator() *ListConsolidator { return &ListConsolidator{} }

func (c *ListConsolidator) Name() string { return mealplanner.StageListConsolidator }

func (c *ListConsolidator) Run(_ context.Context, state *mealplanner.PlannerState) (mealplanner.StageMeta, error) {
	meta := mealplanner.StageMeta{Stage: c.Name()}

	list, err := Consolidate(state.ChosenStore, state.MealPlan, state.CheapestIngredientsInfo)
	if err != nil {
		return meta, err
	}
	state.ShoppingList = list

	slog.Info("LIST_CONSOLIDATOR: Built shopping list", "stores", len(list.Stores()), "items", list.Len())
	return meta, nil
}
