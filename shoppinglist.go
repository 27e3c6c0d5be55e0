package mealplanner

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ShoppingList maps store names to the items to buy there. Stores and items keep insertion order, and
// the JSON encoding is an object whose keys follow that order.
type ShoppingList struct {
	stores []string
	items  map[string][]ShoppingListItem
}

func NewShoppingList() *ShoppingList {
	return &ShoppingList{items: make(map[string][]ShoppingListItem)}
}

// Add appends item under store.
func (l *ShoppingList) Add(store string, item ShoppingListItem) {
	if l.items == nil {
		l.items = make(map[string][]ShoppingListItem)
	}
	if _, ok := l.items[store]; !ok {
		l.stores = append(l.stores, store)
	}
	l.items[store] = append(l.items[store], item)
}

// Stores returns store names in first-encounter order.
func (l *ShoppingList) Stores() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.stores))
	copy(out, l.stores)
	return out
}

// Items returns the items for store, or nil when the store is absent.
func (l *ShoppingList) Items(store string) []ShoppingListItem {
	if l == nil {
		return nil
	}
	return l.items[store]
}

// Len is the total number of items across stores.
func (l *ShoppingList) Len() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, items := range l.items {
		n += len(items)
	}
	return n
}

func (l *ShoppingList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if l != nil {
		for i, store := range l.stores {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(store)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(l.items[store])
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (l *ShoppingList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("shopping list: expected object, got %v", tok)
	}

	l.stores = nil
	l.items = make(map[string][]ShoppingListItem)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		store, ok := tok.(string)
		if !ok {
			return fmt.Errorf("shopping list: expected store name, got %v", tok)
		}
		var items []ShoppingListItem
		if err := dec.Decode(&items); err != nil {
			return fmt.Errorf("shopping list: store %q: %w", store, err)
		}
		for _, it := range items {
			l.Add(store, it)
		}
	}
	_, err = dec.Token()
	return err
}
