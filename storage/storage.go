// Package storage loads the default on-hand ingredient list used when a request does not bring its own.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PantrySource returns the raw pantry document.
type PantrySource interface {
	Load(ctx context.Context) ([]byte, error)
}

// LoadOnHand reads src and returns the ingredient names. The document may list plain names
// ({"ingredients":["egg"]}) or objects with a name ({"ingredients":[{"name":"egg","qty":12}]}).
func LoadOnHand(ctx context.Context, src PantrySource) ([]string, error) {
	data, err := src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pantry: %w", err)
	}

	var doc struct {
		Ingredients []json.RawMessage `json:"ingredients"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pantry: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Ingredients))
	names := make([]string, 0, len(doc.Ingredients))
	for i, raw := range doc.Ingredients {
		name, err := ingredientName(raw)
		if err != nil {
			return nil, fmt.Errorf("pantry ingredient %d: %w", i, err)
		}
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

func ingredientName(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("expected a name or an object with a name: %w", err)
	}
	return obj.Name, nil
}

// EmptyPantry is used when no pantry is configured.
type EmptyPantry struct{}

func (EmptyPantry) Load(ctx context.Context) ([]byte, error) {
	return []byte(`{"ingredients":[]}`), nil
}

// TestPantryState is a simple in-memory implementation for testing
type TestPantryState struct {
	data []byte
	err  error
}

func NewTestPantryState(data []byte) *TestPantryState {
	return &TestPantryState{data: data}
}

func NewTestPantryStateWithError() *TestPantryState {
	return &TestPantryState{err: errors.New("not found")}
}

func (t *TestPantryState) Load(ctx context.Context) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.data, nil
}
