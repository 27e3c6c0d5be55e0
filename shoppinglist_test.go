package mealplanner

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShoppingList_MarshalKeepsStoreOrder(t *testing.T) {
	l := NewShoppingList()
	l.Add("REMA 1000", ShoppingListItem{Name: "Kyllingfilet", Price: 79.9, Currency: "NOK", Notes: "Deal item"})
	l.Add("Extra", ShoppingListItem{Name: "Ris", Price: 25, Currency: "NOK", Notes: "Staple item for rice"})
	l.Add("REMA 1000", ShoppingListItem{Name: "Laks", Price: 99, Currency: "NOK", Notes: "Deal item"})

	data, err := json.Marshal(l)
	require.NoError(t, err)

	want := `{"REMA 1000":[` +
		`{"name":"Kyllingfilet","price":79.9,"currency":"NOK","notes":"Deal item","image_url":null},` +
		`{"name":"Laks","price":99,"currency":"NOK","notes":"Deal item","image_url":null}],` +
		`"Extra":[{"name":"Ris","price":25,"currency":"NOK","notes":"Staple item for rice","image_url":null}]}`
	assert.JSONEq(t, want, string(data))
	assert.Less(t, strings.Index(string(data), "REMA 1000"), strings.Index(string(data), "Extra"))
	assert.Equal(t, []string{"REMA 1000", "Extra"}, l.Stores())
	assert.Equal(t, 3, l.Len())
}

func TestShoppingList_Empty(t *testing.T) {
	tests := []struct {
		name string
		list *ShoppingList
	}{
		{name: "new list", list: NewShoppingList()},
		{name: "nil list", list: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.list.MarshalJSON()
			require.NoError(t, err)
			assert.Equal(t, "{}", string(data))
			assert.Equal(t, 0, tt.list.Len())
			assert.Nil(t, tt.list.Items("anything"))
		})
	}
}

func TestShoppingList_UnmarshalPreservesOrder(t *testing.T) {
	var l ShoppingList
	err := json.Unmarshal([]byte(`{"Meny":[{"name":"Egg","price":39,"currency":"NOK","notes":"Deal item","image_url":null}],"Kiwi":[{"name":"Melk","price":22.5,"currency":"NOK","notes":"Staple item for milk","image_url":"https://img/melk.png"}]}`), &l)
	require.NoError(t, err)

	assert.Equal(t, []string{"Meny", "Kiwi"}, l.Stores())
	require.Len(t, l.Items("Kiwi"), 1)
	require.NotNil(t, l.Items("Kiwi")[0].ImageURL)
	assert.Equal(t, "https://img/melk.png", *l.Items("Kiwi")[0].ImageURL)
}

func TestShoppingList_UnmarshalRejectsArray(t *testing.T) {
	var l ShoppingList
	err := json.Unmarshal([]byte(`[]`), &l)
	assert.Error(t, err)
}

func TestPlannerState_EmptyListsEncodeAsArrays(t *testing.T) {
	state := NewPlannerState("", nil)
	assert.Equal(t, DefaultQuery, state.InitialQuery)

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"on_hand_ingredients", "search_terms", "found_deals", "meal_plan", "missing_ingredients", "cheapest_ingredients_info"} {
		assert.Equal(t, "[]", string(raw[key]), key)
	}
	assert.Equal(t, "{}", string(raw["shopping_list"]))
	assert.Equal(t, `""`, string(raw["chosen_store"]))
}

func TestDealsByStore(t *testing.T) {
	deals := []DealInfo{
		{ID: 1, Store: "Kiwi"},
		{ID: 2, Store: "Meny"},
		{ID: 3, Store: "Kiwi"},
	}

	stores, grouped := DealsByStore(deals)
	assert.Equal(t, []string{"Kiwi", "Meny"}, stores)
	assert.Len(t, grouped["Kiwi"], 2)
	assert.Equal(t, 3, grouped["Kiwi"][1].ID)
	assert.Len(t, grouped["Meny"], 1)
}
