package kassal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strconv"

	"mealplanner"
)

const (
	currencyNOK = "NOK"

	// only the newest entries are considered when looking for the previous price
	historyWindow = 10
)

type Store struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type PricePoint struct {
	Price json.Number `json:"price"`
	Date  string      `json:"date"`
}

// Product is the subset of a Kassalapp product the planner uses.
type Product struct {
	ID               int          `json:"id"`
	Name             string       `json:"name"`
	EAN              string       `json:"ean"`
	Brand            string       `json:"brand"`
	Vendor           string       `json:"vendor"`
	Image            *string      `json:"image"`
	CurrentPrice     *float64     `json:"current_price"`
	CurrentUnitPrice *float64     `json:"current_unit_price"`
	Weight           *float64     `json:"weight"`
	WeightUnit       *string      `json:"weight_unit"`
	Store            *Store       `json:"store"`
	PriceHistory     []PricePoint `json:"price_history"`
}

func (p Product) StoreName() string {
	if p.Store == nil || p.Store.Name == "" {
		return "N/A"
	}
	return p.Store.Name
}

func (p Product) storeCode() string {
	if p.Store == nil {
		return ""
	}
	return p.Store.Code
}

func (p Product) valid() bool {
	return p.ID != 0 && p.Name != "" && p.CurrentPrice != nil
}

// SearchProducts returns products matching term, restricted to nearby store groups when a location is
// configured. Products without id, name or current price are dropped.
func (c *Client) SearchProducts(ctx context.Context, term string) ([]Product, error) {
	if term == "" {
		return nil, fmt.Errorf("search term must be non-empty")
	}

	groups, err := c.NearbyStoreGroups(ctx)
	if err != nil {
		return nil, err
	}

	var raw []Product
	q := url.Values{}
	q.Set("search", term)
	q.Set("size", strconv.Itoa(searchPageSize))
	if err := c.get(ctx, "/products", q, &raw); err != nil {
		return nil, err
	}

	out := make([]Product, 0, len(raw))
	for _, p := range raw {
		if !p.valid() {
			continue
		}
		if len(groups) > 0 {
			if _, ok := groups[p.storeCode()]; !ok {
				continue
			}
		}
		out = append(out, p)
	}

	slog.Info("KASSAL: search", "term", term, "raw", len(raw), "kept", len(out), "nearby_groups", len(groups))
	return out, nil
}

// SearchDeals returns the products matching term that have a confirmed price drop.
func (c *Client) SearchDeals(ctx context.Context, term string) ([]mealplanner.DealInfo, error) {
	products, err := c.SearchProducts(ctx, term)
	if err != nil {
		return nil, err
	}
	var deals []mealplanner.DealInfo
	for _, p := range products {
		if d, ok := PriceDrop(p); ok {
			deals = append(deals, d)
		}
	}
	return deals, nil
}

// ProductDetails fetches a single product by its Kassalapp id.
func (c *Client) ProductDetails(ctx context.Context, id int) (Product, error) {
	var p Product
	if err := c.get(ctx, fmt.Sprintf("/products/id/%d", id), nil, &p); err != nil {
		return Product{}, err
	}
	if p.ID == 0 {
		return Product{}, fmt.Errorf("%w: product %d", mealplanner.ErrNotFound, id)
	}
	return p, nil
}

// PriceDrop reports whether p has dropped in price. The previous price is the first of the newest
// history entries that differs from the current price; it must be higher than the current one.
func PriceDrop(p Product) (mealplanner.DealInfo, bool) {
	if !p.valid() || len(p.PriceHistory) == 0 {
		return mealplanner.DealInfo{}, false
	}
	current := *p.CurrentPrice

	history := make([]PricePoint, len(p.PriceHistory))
	copy(history, p.PriceHistory)
	sort.SliceStable(history, func(i, j int) bool { return history[i].Date > history[j].Date })
	if len(history) > historyWindow {
		history = history[:historyWindow]
	}

	previous, found := 0.0, false
	for _, h := range history {
		price, err := h.Price.Float64()
		if err != nil {
			continue
		}
		if price != current {
			previous, found = price, true
			break
		}
	}
	if !found || previous <= current || previous == 0 {
		return mealplanner.DealInfo{}, false
	}

	pct := math.Round((previous-current)/previous*100*100) / 100
	if pct <= 0 {
		return mealplanner.DealInfo{}, false
	}

	return mealplanner.DealInfo{
		ID:                  p.ID,
		Name:                p.Name,
		CurrentPrice:        current,
		PreviousPrice:       previous,
		PriceDropPercentage: pct,
		Currency:            currencyNOK,
		Store:               p.StoreName(),
		ImageURL:            p.Image,
	}, true
}
