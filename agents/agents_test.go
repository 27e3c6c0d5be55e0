package agents

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"mealplanner"
	"mealplanner/kassal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCompleter replies with a canned body per stage and records every request.
type stubCompleter struct {
	mu       sync.Mutex
	replies  map[string]string
	errs     map[string]error
	requests []mealplanner.CompletionRequest
}

func (s *stubCompleter) Complete(_ context.Context, req mealplanner.CompletionRequest) (mealplanner.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err := s.errs[req.Stage]; err != nil {
		return mealplanner.Completion{}, err
	}
	reply, ok := s.replies[req.Stage]
	if !ok {
		return mealplanner.Completion{}, fmt.Errorf("no reply for %s", req.Stage)
	}
	return mealplanner.Completion{
		Content: reply,
		Usage:   mealplanner.TokenUsage{PromptTokens: 10, CompletionTokens: 5, Model: "stub"},
	}, nil
}

func (s *stubCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fakeSearcher struct {
	mu    sync.Mutex
	deals map[string][]mealplanner.DealInfo
	errs  map[string]error
	terms []string
}

func (f *fakeSearcher) SearchDeals(_ context.Context, term string) ([]mealplanner.DealInfo, error) {
	f.mu.Lock()
	f.terms = append(f.terms, term)
	f.mu.Unlock()
	if err := f.errs[term]; err != nil {
		return nil, err
	}
	return f.deals[term], nil
}

type fakeFinder struct {
	products   map[string][]kassal.Product
	searchErrs map[string]error
	details    map[int]kassal.Product
	detailErrs map[int]error
}

func (f *fakeFinder) SearchProducts(_ context.Context, term string) ([]kassal.Product, error) {
	if err := f.searchErrs[term]; err != nil {
		return nil, err
	}
	return f.products[term], nil
}

func (f *fakeFinder) ProductDetails(_ context.Context, id int) (kassal.Product, error) {
	if err := f.detailErrs[id]; err != nil {
		return kassal.Product{}, err
	}
	if p, ok := f.details[id]; ok {
		return p, nil
	}
	for _, products := range f.products {
		for _, p := range products {
			if p.ID == id {
				return p, nil
			}
		}
	}
	return kassal.Product{}, mealplanner.ErrNotFound
}

func fp(f float64) *float64 { return &f }
func sp(s string) *string   { return &s }

func product(id int, name string, price float64, unit string, perUnit float64, store string) kassal.Product {
	p := kassal.Product{
		ID:           id,
		Name:         name,
		CurrentPrice: fp(price),
		Store:        &kassal.Store{Name: store, Code: store},
	}
	if unit != "" {
		p.WeightUnit = sp(unit)
	}
	if perUnit > 0 {
		p.CurrentUnitPrice = fp(perUnit)
	}
	return p
}

func TestCleanNames(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, []string{}},
		{"trims and drops empties", []string{" torsk ", "", "   "}, []string{"torsk"}},
		{"dedups ignoring case and spacing", []string{"Olive  oil", "olive oil", "OLIVE OIL"}, []string{"Olive  oil"}},
		{"keeps order", []string{"b", "a", "b"}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanNames(tt.in))
		})
	}
}

func TestRender(t *testing.T) {
	out, err := render("deal_hunter.prompt", dealHunterInput{Query: "billig middag", OnHandIngredients: []string{}, MaxTerms: 5})
	require.NoError(t, err)
	assert.Contains(t, out, "```json")
	assert.Contains(t, out, `"query": "billig middag"`)

	_, err = render("no_such_template", nil)
	assert.Error(t, err)
}
