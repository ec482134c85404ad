// Package scope supplies the accounts and regions a work descriptor is multiplied over.
package scope

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Provider is the external directory of enabled accounts and regions.
type Provider interface {
	ListEnabledAccounts(ctx context.Context) ([]string, error)
	ListRegions(ctx context.Context) ([]string, error)
}

// Static serves accounts and regions from configuration. Set swaps them on hot reload.
type Static struct {
	mu       sync.RWMutex
	accounts []string
	regions  []string
}

func NewStatic(accounts, regions []string) *Static {
	s := &Static{}
	s.Set(accounts, regions)
	return s
}

func (s *Static) Set(accounts, regions []string) {
	a := normalize(accounts)
	r := normalize(regions)
	s.mu.Lock()
	s.accounts = a
	s.regions = r
	s.mu.Unlock()
}

func (s *Static) ListEnabledAccounts(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.accounts...), nil
}

func (s *Static) ListRegions(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.regions...), nil
}

// Snapshot fetches accounts and regions concurrently and returns them sorted and
// de-duplicated. Either failure fails the whole snapshot.
func Snapshot(ctx context.Context, p Provider) (accounts, regions []string, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := p.ListEnabledAccounts(gctx)
		accounts = v
		return err
	})
	g.Go(func() error {
		v, err := p.ListRegions(gctx)
		regions = v
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return normalize(accounts), normalize(regions), nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
