package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"mealplanner"
	"mealplanner/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult() *workflow.Result {
	state := mealplanner.NewPlannerState("", nil)
	state.ChosenStore = "SPAR"
	state.MealPlan = []mealplanner.MealPlanItem{{MealName: "Day 1: Torsk", Notes: "Serves 2"}}
	state.ShoppingList.Add("SPAR", mealplanner.ShoppingListItem{Name: "Torskefilet", Price: 79, Currency: "NOK", Notes: "Deal item"})
	return &workflow.Result{
		RunID:  "run-1",
		State:  state,
		Stages: []mealplanner.StageMeta{{Usage: mealplanner.TokenUsage{PromptTokens: 120, CompletionTokens: 30}}},
	}
}

func TestPrintResult(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, testResult(), false, false))
		assert.Contains(t, buf.String(), "Day 1: Torsk")
		assert.Contains(t, buf.String(), "Torskefilet: 79.00 NOK")
		assert.Contains(t, buf.String(), "run run-1: 120 prompt tokens, 30 completion tokens")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, testResult(), true, false))

		var state map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &state))
		assert.Equal(t, "SPAR", state["chosen_store"])
	})

	t.Run("dump", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResult(&buf, testResult(), false, true))
		assert.Contains(t, buf.String(), "ChosenStore")
		assert.Contains(t, buf.String(), "prompt tokens")
	})
}
