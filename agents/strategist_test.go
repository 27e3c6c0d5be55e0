package agents

import (
	"context"
	"encoding/json"
	"testing"

	"mealplanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// strategistReply builds a model reply with n meals, each using dealIDs.
func strategistReply(t *testing.T, store string, n int, dealIDs []int, missing []string) string {
	t.Helper()
	meals := make([]strategistMeal, 0, n)
	for i := 0; i < n; i++ {
		m := strategistMeal{MealName: "Fiskesuppe", OnHandUsed: []string{"ris"}, Notes: "Likely leftovers"}
		for _, id := range dealIDs {
			m.DealsUsed = append(m.DealsUsed, strategistDealRef{ID: id})
		}
		meals = append(meals, m)
	}
	b, err := json.Marshal(strategistOutput{ChosenStore: store, MealPlan: meals, MissingIngredients: missing})
	require.NoError(t, err)
	return string(b)
}

func TestOfferedStores(t *testing.T) {
	deal := mealplanner.DealInfo{}
	byStore := map[string][]mealplanner.DealInfo{
		"SPAR":  {deal},
		"KIWI":  {deal, deal, deal},
		"REMA":  {deal, deal, deal, deal},
		"MENY":  {deal, deal},
		"JOKER": {deal, deal},
	}

	tests := []struct {
		name  string
		order []string
		min   int
		want  []string
	}{
		{"threshold keeps encounter order", []string{"SPAR", "KIWI", "REMA"}, 3, []string{"KIWI", "REMA"}},
		{"threshold one offers all", []string{"SPAR", "KIWI"}, 1, []string{"SPAR", "KIWI"}},
		{"fallback to the store with most deals", []string{"SPAR", "KIWI", "REMA"}, 10, []string{"REMA"}},
		{"fallback tie goes to first", []string{"MENY", "JOKER"}, 3, []string{"MENY"}},
		{"no stores", nil, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OfferedStores(tt.order, byStore, tt.min))
		})
	}
}

func TestMealStrategist_Run(t *testing.T) {
	cod := mealplanner.DealInfo{ID: 1, Name: "Cod", CurrentPrice: 79, PreviousPrice: 99, Store: "SPAR", Currency: "NOK"}
	salmon := mealplanner.DealInfo{ID: 2, Name: "Salmon", CurrentPrice: 89, PreviousPrice: 119, Store: "KIWI", Currency: "NOK"}

	newState := func() *mealplanner.PlannerState {
		s := mealplanner.NewPlannerState("", []string{"Ris", "Melk"})
		s.FoundDeals = []mealplanner.DealInfo{cod, salmon}
		return s
	}

	t.Run("deals from other stores are dropped from the plan", func(t *testing.T) {
		llm := &stubCompleter{replies: map[string]string{
			mealplanner.StageMealStrategist: strategistReply(t, "SPAR", 7, []int{1, 2, 99, 1}, []string{"løk"}),
		}}
		state := newState()

		_, err := NewMealStrategist(llm, 1).Run(context.Background(), state)
		require.NoError(t, err)

		assert.Equal(t, "SPAR", state.ChosenStore)
		require.Len(t, state.MealPlan, mealplanner.PlanDays)
		for _, meal := range state.MealPlan {
			assert.Equal(t, []mealplanner.DealInfo{cod}, meal.DealsUsed)
			assert.Equal(t, "Likely leftovers", meal.Notes)
		}
	})

	t.Run("store name is matched ignoring case", func(t *testing.T) {
		llm := &stubCompleter{replies: map[string]string{
			mealplanner.StageMealStrategist: strategistReply(t, " kiwi ", 7, []int{2}, nil),
		}}
		state := newState()

		_, err := NewMealStrategist(llm, 1).Run(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, "KIWI", state.ChosenStore)
		assert.Equal(t, salmon, state.MealPlan[0].DealsUsed[0])
	})

	t.Run("only stores over the threshold are offered", func(t *testing.T) {
		llm := &stubCompleter{replies: map[string]string{
			mealplanner.StageMealStrategist: strategistReply(t, "KIWI", 7, nil, nil),
		}}
		state := newState()
		extra := mealplanner.DealInfo{ID: 3, Name: "Potet", Store: "KIWI", Currency: "NOK"}
		state.FoundDeals = append(state.FoundDeals, extra)

		_, err := NewMealStrategist(llm, 2).Run(context.Background(), state)
		require.NoError(t, err)

		require.Len(t, llm.requests, 1)
		assert.Contains(t, llm.requests[0].Prompt, `"store": "KIWI"`)
		assert.NotContains(t, llm.requests[0].Prompt, `"store": "SPAR"`)
		assert.Contains(t, llm.requests[0].System, "exactly 7 dinners")
	})

	t.Run("a store that was not offered is a contract violation", func(t *testing.T) {
		llm := &stubCompleter{replies: map[string]string{
			mealplanner.StageMealStrategist: strategistReply(t, "REMA 1000", 7, nil, nil),
		}}
		_, err := NewMealStrategist(llm, 1).Run(context.Background(), newState())
		assert.ErrorIs(t, err, mealplanner.ErrContractViolation)
	})

	t.Run("the wrong number of meals is a contract violation", func(t *testing.T) {
		llm := &stubCompleter{replies: map[string]string{
			mealplanner.StageMealStrategist: strategistReply(t, "SPAR", 6, nil, nil),
		}}
		state := newState()
		_, err := NewMealStrategist(llm, 1).Run(context.Background(), state)
		assert.ErrorIs(t, err, mealplanner.ErrContractViolation)
		assert.Empty(t, state.ChosenStore)
	})

	t.Run("missing ingredients exclude on-hand items and deals", func(t *testing.T) {
		llm := &stubCompleter{replies: map[string]string{
			mealplanner.StageMealStrategist: strategistReply(t, "SPAR", 7, []int{1},
				[]string{"melk", "COD", "Mel", "mel", " ", "salmon", "Hvitløk"}),
		}}
		state := newState()

		_, err := NewMealStrategist(llm, 1).Run(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, []string{"Mel", "Hvitløk"}, state.MissingIngredients)
	})

	t.Run("empty meal names and notes get defaults", func(t *testing.T) {
		meals := make([]strategistMeal, 7)
		b, err := json.Marshal(strategistOutput{ChosenStore: "SPAR", MealPlan: meals})
		require.NoError(t, err)
		llm := &stubCompleter{replies: map[string]string{mealplanner.StageMealStrategist: string(b)}}
		state := newState()

		_, err = NewMealStrategist(llm, 1).Run(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, "Day 1", state.MealPlan[0].MealName)
		assert.Equal(t, "Day 7", state.MealPlan[6].MealName)
		assert.Equal(t, "Serves 2", state.MealPlan[0].Notes)
		assert.NotNil(t, state.MealPlan[0].DealsUsed)
		assert.NotNil(t, state.MealPlan[0].OnHandUsed)
		assert.NotNil(t, state.MissingIngredients)
	})

	t.Run("no deals skips planning without calling the model", func(t *testing.T) {
		llm := &stubCompleter{}
		state := mealplanner.NewPlannerState("", nil)

		meta, err := NewMealStrategist(llm, 3).Run(context.Background(), state)
		require.NoError(t, err)
		assert.NotEmpty(t, meta.Skipped)
		assert.Zero(t, llm.calls())
		assert.Empty(t, state.ChosenStore)
		assert.NotNil(t, state.MealPlan)
		assert.Empty(t, state.MealPlan)
		assert.Empty(t, state.MissingIngredients)
	})

	t.Run("malformed output", func(t *testing.T) {
		llm := &stubCompleter{replies: map[string]string{mealplanner.StageMealStrategist: `{"chosen_store": "SPAR", "meal_plan": "soon"}`}}
		_, err := NewMealStrategist(llm, 1).Run(context.Background(), newState())
		assert.ErrorIs(t, err, mealplanner.ErrMalformedOutput)
	})
}

func TestScenario_ChosenStoreOwnsDealItems(t *testing.T) {
	cod := mealplanner.DealInfo{ID: 1, Name: "Cod", CurrentPrice: 79, PreviousPrice: 99, Store: "SPAR", Currency: "NOK"}
	salmon := mealplanner.DealInfo{ID: 2, Name: "Salmon", CurrentPrice: 89, PreviousPrice: 119, Store: "KIWI", Currency: "NOK"}

	llm := &stubCompleter{replies: map[string]string{
		mealplanner.StageMealStrategist: strategistReply(t, "SPAR", 7, []int{1, 2}, nil),
	}}
	state := mealplanner.NewPlannerState("", nil)
	state.FoundDeals = []mealplanner.DealInfo{cod, salmon}

	_, err := NewMealStrategist(llm, 1).Run(context.Background(), state)
	require.NoError(t, err)
	_, err = NewListConsolidator().Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"SPAR"}, state.ShoppingList.Stores())
	items := state.ShoppingList.Items("SPAR")
	require.Len(t, items, 1)
	assert.Equal(t, "Cod", items[0].Name)
	for _, it := range items {
		assert.NotEqual(t, "Salmon", it.Name)
	}
}
