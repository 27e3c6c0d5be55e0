package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"mealplanner"
	"mealplanner/kassal"
	"mealplanner/llm"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"golang.org/x/sync/errgroup"
)

const currencyNOK = "NOK"

// standardUnits are packaging units a plain grocery item is normally sold in.
var standardUnits = map[string]struct{}{
	"kg": {}, "g": {}, "l": {}, "ml": {}, "cl": {}, "dl": {},
	"stk": {}, "pk": {}, "pakke": {}, "pcs": {},
}

// ProductFinder searches the catalogue and fetches product details.
type ProductFinder interface {
	SearchProducts(ctx context.Context, term string) ([]kassal.Product, error)
	ProductDetails(ctx context.Context, id int) (kassal.Product, error)
}

type scoutCandidate struct {
	ProductID    int      `json:"product_id"`
	Name         string   `json:"name"`
	Store        string   `json:"store"`
	CurrentPrice float64  `json:"current_price"`
	PricePerUnit *float64 `json:"price_per_unit,omitempty"`
	Unit         *string  `json:"unit,omitempty"`

	product kassal.Product
}

type scoutIngredient struct {
	IngredientName string           `json:"ingredient_name"`
	Candidates     []scoutCandidate `json:"candidates"`
}

type scoutInput struct {
	Ingredients []scoutIngredient `json:"ingredients"`
}

type scoutPick struct {
	IngredientName string `json:"ingredient_name"`
	ProductID      int    `json:"product_id"`
}

type scoutOutput struct {
	Picks []scoutPick `json:"picks"`
}

var scoutSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"picks"},
	Properties: map[string]*jsonschema.Schema{
		"picks": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"ingredient_name", "product_id"},
				Properties: map[string]*jsonschema.Schema{
					"ingredient_name": {Type: "string"},
					"product_id":      {Type: "integer"},
				},
			},
		},
	},
}

// BargainScout finds one purchasable option for every missing ingredient.
type BargainScout struct {
	llm         mealplanner.Completer
	finder      ProductFinder
	selection   string
	candidates  int
	concurrency int
}

func NewBargainScout(completer mealplanner.Completer, finder ProductFinder, selection string, candidates, concurrency int) *BargainScout {
	if selection == "" {
		selection = mealplanner.SelectionLLM
	}
	if candidates <= 0 {
		candidates = 4
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BargainScout{
		llm:         completer,
		finder:      finder,
		selection:   selection,
		candidates:  candidates,
		concurrency: concurrency,
	}
}

func (b *BargainScout) Name() string { return mealplanner.StageBargainScout }

func (b *BargainScout) Run(ctx context.Context, state *mealplanner.PlannerState) (mealplanner.StageMeta, error) {
	meta := mealplanner.StageMeta{Stage: b.Name()}

	if len(state.MissingIngredients) == 0 {
		state.CheapestIngredientsInfo = []mealplanner.IngredientPick{}
		meta.Skipped = "no missing ingredients"
		return meta, nil
	}

	ingredients, lookups, err := b.gather(ctx, state.MissingIngredients)
	meta.Lookups = lookups
	if err != nil {
		return meta, err
	}

	var withCandidates []scoutIngredient
	for _, ing := range ingredients {
		if len(ing.Candidates) == 0 {
			slog.Warn("BARGAIN_SCOUT: No candidates, omitting ingredient", "ingredient", ing.IngredientName)
			continue
		}
		withCandidates = append(withCandidates, ing)
	}

	chosen := make(map[string]int, len(withCandidates))
	if b.selection == mealplanner.SelectionLLM && len(withCandidates) > 0 {
		chosen, err = b.selectWithLLM(ctx, withCandidates, &meta)
		if err != nil {
			return meta, err
		}
	}

	picks := make([]mealplanner.IngredientPick, 0, len(withCandidates))
	for _, ing := range withCandidates {
		c, ok := candidateByID(ing.Candidates, chosen[ing.IngredientName])
		if !ok {
			if b.selection == mealplanner.SelectionLLM {
				slog.Warn("BARGAIN_SCOUT: No valid pick from model, using heuristic", "ingredient", ing.IngredientName)
			}
			c = selectHeuristic(ing.Candidates)
		}
		picks = append(picks, mealplanner.IngredientPick{
			IngredientName: ing.IngredientName,
			ProductID:      c.ProductID,
			ProductName:    c.Name,
			Store:          c.Store,
			CurrentPrice:   c.CurrentPrice,
			Currency:       currencyNOK,
			Unit:           c.Unit,
			PricePerUnit:   c.PricePerUnit,
			ImageURL:       c.product.Image,
		})
	}

	state.CheapestIngredientsInfo = picks
	slog.Info("BARGAIN_SCOUT: Picked ingredients", "missing", len(state.MissingIngredients), "picked", len(picks), "selection", b.selection)
	return meta, nil
}

// gather searches every ingredient concurrently and returns the detailed candidates in ingredient order.
func (b *BargainScout) gather(ctx context.Context, names []string) ([]scoutIngredient, []mealplanner.LookupLog, error) {
	ingredients := make([]scoutIngredient, len(names))
	lookups := make([][]mealplanner.LookupLog, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, name := range names {
		g.Go(func() error {
			ingredients[i] = scoutIngredient{IngredientName: name, Candidates: []scoutCandidate{}}

			products, err := b.finder.SearchProducts(gctx, name)
			search := mealplanner.LookupLog{Kind: "search_products", Key: name, Results: len(products)}
			if err != nil {
				search.Error = err.Error()
				lookups[i] = append(lookups[i], search)
				if abort(gctx, err) {
					return fmt.Errorf("search for %q: %w", name, err)
				}
				slog.Warn("BARGAIN_SCOUT: search failed, skipping ingredient", "ingredient", name, "error", err)
				return nil
			}
			lookups[i] = append(lookups[i], search)

			for _, p := range RankProducts(name, products, b.candidates) {
				detailed, err := b.finder.ProductDetails(gctx, p.ID)
				details := mealplanner.LookupLog{Kind: "product_details", Key: fmt.Sprint(p.ID), Results: 1}
				if err != nil {
					details.Error = err.Error()
					details.Results = 0
					lookups[i] = append(lookups[i], details)
					if abort(gctx, err) {
						return fmt.Errorf("details for product %d: %w", p.ID, err)
					}
					slog.Warn("BARGAIN_SCOUT: details failed, skipping candidate", "ingredient", name, "product_id", p.ID, "error", err)
					continue
				}
				lookups[i] = append(lookups[i], details)
				if detailed.CurrentPrice == nil {
					detailed.CurrentPrice = p.CurrentPrice
				}
				if detailed.Store == nil {
					detailed.Store = p.Store
				}
				ingredients[i].Candidates = append(ingredients[i].Candidates, newCandidate(detailed))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, flatten(lookups), err
	}
	return ingredients, flatten(lookups), nil
}

func (b *BargainScout) selectWithLLM(ctx context.Context, ingredients []scoutIngredient, meta *mealplanner.StageMeta) (map[string]int, error) {
	input := scoutInput{Ingredients: ingredients}
	system, err := render("bargain_scout.system", input)
	if err != nil {
		return nil, err
	}
	prompt, err := render("bargain_scout.prompt", input)
	if err != nil {
		return nil, err
	}
	meta.LLMInput = prompt

	out, completion, err := llm.Structured[scoutOutput](ctx, b.llm, mealplanner.CompletionRequest{
		Stage:  b.Name(),
		System: system,
		Prompt: prompt,
		Schema: scoutSchema,
	})
	meta.Usage = completion.Usage
	meta.LLMOutput = completion.Content
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(ingredients))
	for _, ing := range ingredients {
		byName[normalize(ing.IngredientName)] = ing.IngredientName
	}
	chosen := make(map[string]int, len(out.Picks))
	for _, p := range out.Picks {
		name, ok := byName[normalize(p.IngredientName)]
		if !ok {
			continue
		}
		if _, dup := chosen[name]; !dup {
			chosen[name] = p.ProductID
		}
	}
	return chosen, nil
}

// RankProducts orders products so that plain-named ones come first, then by lowest price, and returns
// at most limit of them. The sort is stable so search order breaks ties.
func RankProducts(ingredient string, products []kassal.Product, limit int) []kassal.Product {
	ranked := make([]kassal.Product, len(products))
	copy(ranked, products)

	key := normalize(ingredient)
	sort.SliceStable(ranked, func(i, j int) bool {
		ni, nj := nameRank(key, ranked[i].Name), nameRank(key, ranked[j].Name)
		if ni != nj {
			return ni < nj
		}
		return price(ranked[i]) < price(ranked[j])
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// nameRank is 0 when the name starts with the ingredient, 1 when it contains it and 2 otherwise.
func nameRank(ingredient, name string) int {
	n := normalize(name)
	switch {
	case ingredient != "" && strings.HasPrefix(n, ingredient):
		return 0
	case ingredient != "" && strings.Contains(n, ingredient):
		return 1
	default:
		return 2
	}
}

// selectHeuristic picks the candidate sold in a standard unit with the lowest unit price, falling back
// to current price. Earlier candidates win ties. candidates must be non-empty.
func selectHeuristic(candidates []scoutCandidate) scoutCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		bs, cs := hasStandardUnit(best), hasStandardUnit(c)
		if cs != bs {
			if cs {
				best = c
			}
			continue
		}
		if comparablePrice(c) < comparablePrice(best) {
			best = c
		}
	}
	return best
}

func hasStandardUnit(c scoutCandidate) bool {
	if c.Unit == nil {
		return false
	}
	_, ok := standardUnits[strings.ToLower(strings.TrimSpace(*c.Unit))]
	return ok
}

func comparablePrice(c scoutCandidate) float64 {
	if c.PricePerUnit != nil && *c.PricePerUnit > 0 {
		return *c.PricePerUnit
	}
	return c.CurrentPrice
}

func newCandidate(p kassal.Product) scoutCandidate {
	return scoutCandidate{
		ProductID:    p.ID,
		Name:         p.Name,
		Store:        p.StoreName(),
		CurrentPrice: price(p),
		PricePerUnit: p.CurrentUnitPrice,
		Unit:         p.WeightUnit,
		product:      p,
	}
}

func candidateByID(candidates []scoutCandidate, id int) (scoutCandidate, bool) {
	if id == 0 {
		return scoutCandidate{}, false
	}
	for _, c := range candidates {
		if c.ProductID == id {
			return c, true
		}
	}
	return scoutCandidate{}, false
}

func price(p kassal.Product) float64 {
	if p.CurrentPrice == nil {
		return 0
	}
	return *p.CurrentPrice
}

// abort reports whether a lookup error must stop the whole stage rather than skip one item.
func abort(ctx context.Context, err error) bool {
	return errors.Is(err, mealplanner.ErrUnauthorized) ||
		errors.Is(err, mealplanner.ErrRateLimitDeadline) ||
		ctx.Err() != nil
}

func flatten(in [][]mealplanner.LookupLog) []mealplanner.LookupLog {
	var out []mealplanner.LookupLog
	for _, l := range in {
		out = append(out, l...)
	}
	return out
}
