package packages

import (
	"context"
	"sync"
	"time"
)

// CachedRepository wraps a Repository with a TTL cache for the active list and
// by-ID lookups. Writes invalidate the whole cache.
type CachedRepository struct {
	underlying Repository
	cacheTTL   time.Duration

	mu         sync.RWMutex
	cachedList []Package
	byID       map[string]Package
	fetchedAt  time.Time
}

// NewCachedRepository wraps a repository with a caching layer.
// A zero cacheTTL makes it a pass-through.
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{underlying: underlying, cacheTTL: cacheTTL}
}

func (r *CachedRepository) GetPackage(ctx context.Context, id string) (Package, error) {
	if r.cacheTTL == 0 {
		return r.underlying.GetPackage(ctx, id)
	}

	r.mu.RLock()
	if time.Since(r.fetchedAt) < r.cacheTTL {
		if pkg, ok := r.byID[id]; ok {
			r.mu.RUnlock()
			return pkg, nil
		}
	}
	r.mu.RUnlock()

	// Miss or stale: the by-ID cache only covers active packages, so inactive
	// ones fall through to the underlying repository every time.
	pkg, err := r.underlying.GetPackage(ctx, id)
	if err != nil {
		return Package{}, err
	}
	return pkg, nil
}

func (r *CachedRepository) ListPackages(ctx context.Context) ([]Package, error) {
	if r.cacheTTL == 0 {
		return r.underlying.ListPackages(ctx)
	}

	r.mu.RLock()
	if time.Since(r.fetchedAt) < r.cacheTTL && r.cachedList != nil {
		cached := r.cachedList
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	list, err := r.underlying.ListPackages(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Package, len(list))
	for _, pkg := range list {
		byID[pkg.ID] = pkg
	}

	r.mu.Lock()
	r.cachedList = list
	r.byID = byID
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	return list, nil
}

// ListAllPackages is an admin path and always bypasses the cache.
func (r *CachedRepository) ListAllPackages(ctx context.Context) ([]Package, error) {
	return r.underlying.ListAllPackages(ctx)
}

func (r *CachedRepository) CreatePackage(ctx context.Context, pkg Package) error {
	if err := r.underlying.CreatePackage(ctx, pkg); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

func (r *CachedRepository) UpdatePackage(ctx context.Context, pkg Package) error {
	if err := r.underlying.UpdatePackage(ctx, pkg); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

func (r *CachedRepository) DeletePackage(ctx context.Context, id string) error {
	if err := r.underlying.DeletePackage(ctx, id); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

func (r *CachedRepository) invalidate() {
	r.mu.Lock()
	r.cachedList = nil
	r.byID = nil
	r.fetchedAt = time.Time{}
	r.mu.Unlock()
}

func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}
