package reference

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store with trigram similarity search.
// It backs tests and the CLI when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	companies []Company
	suppliers []Supplier
}

func NewMemoryStore(companies []Company, suppliers []Supplier) *MemoryStore {
	return &MemoryStore{
		companies: append([]Company(nil), companies...),
		suppliers: append([]Supplier(nil), suppliers...),
	}
}

// AddSupplier appends a supplier record
func (m *MemoryStore) AddSupplier(s Supplier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppliers = append(m.suppliers, s)
}

// AddCompany appends a company record
func (m *MemoryStore) AddCompany(c Company) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies = append(m.companies, c)
}

func (m *MemoryStore) FindCompanies(ctx context.Context) ([]Company, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Company(nil), m.companies...), nil
}

func (m *MemoryStore) FindActiveSuppliers(ctx context.Context) ([]Supplier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Supplier
	for _, s := range m.suppliers {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) SimilarCompanies(ctx context.Context, name string, threshold float64) ([]ScoredCompany, error) {
	companies, err := m.FindCompanies(ctx)
	if err != nil {
		return nil, err
	}
	var out []ScoredCompany
	for _, c := range companies {
		if score := Similarity(name, c.Name); score > threshold {
			out = append(out, ScoredCompany{Company: c, Score: score})
		}
	}
	return out, nil
}

func (m *MemoryStore) SimilarSuppliers(ctx context.Context, name string, threshold float64) ([]ScoredSupplier, error) {
	suppliers, err := m.FindActiveSuppliers(ctx)
	if err != nil {
		return nil, err
	}
	var out []ScoredSupplier
	for _, s := range suppliers {
		if score := Similarity(name, s.Name); score > threshold {
			out = append(out, ScoredSupplier{Supplier: s, Score: score})
		}
	}
	return out, nil
}
