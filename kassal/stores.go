package kassal

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"

	"mealplanner"
)

type physicalStore struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// NearbyStoreGroups returns the store group codes near the configured location. The result is fetched
// once per client and reused. An empty set means no filtering. Lookup failures other than
// authentication are logged and treated as "no filter" without being cached. Concurrent callers share
// one lookup and each stops waiting when its own context is done.
func (c *Client) NearbyStoreGroups(ctx context.Context) (map[string]struct{}, error) {
	if c.lat == "" || c.lng == "" || c.km == "" {
		return nil, nil
	}
	if groups, ok := c.cachedGroups(); ok {
		return groups, nil
	}

	// The shared lookup must outlive any single caller's cancellation.
	ch := c.groupsLoad.DoChan("physical-stores", func() (any, error) {
		return c.loadStoreGroups(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		groups, _ := res.Val.(map[string]struct{})
		return groups, nil
	}
}

func (c *Client) cachedGroups() (map[string]struct{}, bool) {
	c.groupsMu.Lock()
	defer c.groupsMu.Unlock()
	return c.groups, c.groupsLoaded
}

func (c *Client) loadStoreGroups(ctx context.Context) (map[string]struct{}, error) {
	if groups, ok := c.cachedGroups(); ok {
		return groups, nil
	}

	var stores []physicalStore
	q := url.Values{}
	q.Set("lat", c.lat)
	q.Set("lng", c.lng)
	q.Set("km", c.km)
	q.Set("size", strconv.Itoa(searchPageSize))
	if err := c.get(ctx, "/physical-stores", q, &stores); err != nil {
		if errors.Is(err, mealplanner.ErrUnauthorized) {
			return nil, err
		}
		slog.Warn("KASSAL: nearby store lookup failed, not filtering by store", "error", err)
		return nil, nil
	}

	groups := make(map[string]struct{})
	for _, s := range stores {
		if s.Group != "" {
			groups[s.Group] = struct{}{}
		}
	}

	c.groupsMu.Lock()
	c.groups = groups
	c.groupsLoaded = true
	c.groupsMu.Unlock()

	slog.Info("KASSAL: cached nearby store groups", "count", len(groups))
	return groups, nil
}
