package packages

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory Repository for tests and development.
type MemoryRepository struct {
	mu       sync.RWMutex
	packages map[string]Package
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{packages: make(map[string]Package)}
}

func (r *MemoryRepository) GetPackage(ctx context.Context, id string) (Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pkg, ok := r.packages[id]
	if !ok {
		return Package{}, ErrPackageNotFound
	}
	return pkg, nil
}

func (r *MemoryRepository) ListPackages(ctx context.Context) ([]Package, error) {
	return r.list(false), nil
}

func (r *MemoryRepository) ListAllPackages(ctx context.Context) ([]Package, error) {
	return r.list(true), nil
}

func (r *MemoryRepository) list(includeInactive bool) []Package {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Package, 0, len(r.packages))
	for _, pkg := range r.packages {
		if pkg.Active || includeInactive {
			out = append(out, pkg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryRepository) CreatePackage(ctx context.Context, pkg Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages[pkg.ID] = pkg
	return nil
}

func (r *MemoryRepository) UpdatePackage(ctx context.Context, pkg Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.packages[pkg.ID]; !ok {
		return ErrPackageNotFound
	}
	r.packages[pkg.ID] = pkg
	return nil
}

func (r *MemoryRepository) DeletePackage(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pkg, ok := r.packages[id]
	if !ok {
		return ErrPackageNotFound
	}
	pkg.Active = false
	r.packages[id] = pkg
	return nil
}

func (r *MemoryRepository) Close() error { return nil }
