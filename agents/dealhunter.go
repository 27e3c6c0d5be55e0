package agents

import (
	"context"
	"fmt"
	"log/slog"

	"mealplanner"
	"mealplanner/llm"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"golang.org/x/sync/errgroup"
)

// DealSearcher finds products with a confirmed price drop for a search term.
type DealSearcher interface {
	SearchDeals(ctx context.Context, term string) ([]mealplanner.DealInfo, error)
}

type dealHunterInput struct {
	Query             string   `json:"query"`
	OnHandIngredients []string `json:"on_hand_ingredients"`
	MaxTerms          int      `json:"max_terms"`
}

type dealHunterOutput struct {
	SearchTerms []string `json:"search_terms"`
}

var dealHunterSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"search_terms"},
	Properties: map[string]*jsonschema.Schema{
		"search_terms": {
			Type:        "array",
			Description: "Norwegian grocery search terms",
			Items:       &jsonschema.Schema{Type: "string"},
		},
	},
}

// DealHunter expands the query into search terms and collects price drops for each term.
type DealHunter struct {
	llm         mealplanner.Completer
	searcher    DealSearcher
	maxTerms    int
	concurrency int
}

func NewDealHunter(completer mealplanner.Completer, searcher DealSearcher, maxTerms, concurrency int) *DealHunter {
	if maxTerms <= 0 {
		maxTerms = 20
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &DealHunter{
		llm:         completer,
		searcher:    searcher,
		maxTerms:    maxTerms,
		concurrency: concurrency,
	}
}

func (h *DealHunter) Name() string { return mealplanner.StageDealHunter }

func (h *DealHunter) Run(ctx context.Context, state *mealplanner.PlannerState) (mealplanner.StageMeta, error) {
	meta := mealplanner.StageMeta{Stage: h.Name()}

	input := dealHunterInput{
		Query:             state.InitialQuery,
		OnHandIngredients: state.OnHandIngredients,
		MaxTerms:          h.maxTerms,
	}
	system, err := render("deal_hunter.system", input)
	if err != nil {
		return meta, err
	}
	prompt, err := render("deal_hunter.prompt", input)
	if err != nil {
		return meta, err
	}
	meta.LLMInput = prompt

	out, completion, err := llm.Structured[dealHunterOutput](ctx, h.llm, mealplanner.CompletionRequest{
		Stage:  h.Name(),
		System: system,
		Prompt: prompt,
		Schema: dealHunterSchema,
	})
	meta.Usage = completion.Usage
	meta.LLMOutput = completion.Content
	if err != nil {
		return meta, err
	}

	terms := cleanNames(out.SearchTerms)
	if len(terms) > h.maxTerms {
		terms = terms[:h.maxTerms]
	}
	slog.Info("DEAL_HUNTER: Generated search terms", "count", len(terms), "terms", terms)

	results := make([][]mealplanner.DealInfo, len(terms))
	lookups := make([]mealplanner.LookupLog, len(terms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, term := range terms {
		g.Go(func() error {
			lookups[i] = mealplanner.LookupLog{Kind: "search_deals", Key: term}

			deals, err := h.searcher.SearchDeals(gctx, term)
			if err != nil {
				lookups[i].Error = err.Error()
				if abort(gctx, err) {
					return fmt.Errorf("search for %q: %w", term, err)
				}
				slog.Warn("DEAL_HUNTER: search failed, skipping term", "term", term, "error", err)
				return nil
			}

			results[i] = deals
			lookups[i].Results = len(deals)
			return nil
		})
	}
	err = g.Wait()
	meta.Lookups = lookups
	if err != nil {
		return meta, err
	}

	found := make([]mealplanner.DealInfo, 0)
	seen := make(map[int]struct{})
	for _, deals := range results {
		for _, d := range deals {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			found = append(found, d)
		}
	}

	state.SearchTerms = terms
	state.FoundDeals = found

	slog.Info("DEAL_HUNTER: Collected deals", "terms", len(terms), "deals", len(found))
	return meta, nil
}
