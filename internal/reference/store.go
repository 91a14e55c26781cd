// Package reference resolves entity names read on invoices against the known companies and suppliers.
package reference

import (
	"context"
	"errors"
)

// ErrSimilarityUnsupported is returned by stores that cannot rank names by similarity
var ErrSimilarityUnsupported = errors.New("similarity search not supported")

// Company is a billed company known to the reference store
type Company struct {
	Code    string // ERP code
	Name    string
	RCS     string
	Address string
}

// Supplier is a supplier known to the reference store
type Supplier struct {
	ID      string
	Name    string // Social reason
	TaxID   string
	Address string
	Email   string
	Phone   string
	Contact string
	Active  bool
}

// Store is the read side of the reference database. Implementations return records in a stable order.
type Store interface {
	FindCompanies(ctx context.Context) ([]Company, error)
	FindActiveSuppliers(ctx context.Context) ([]Supplier, error)
}

// SimilaritySearcher is implemented by stores able to rank names by approximate similarity.
// Results hold only records scoring above threshold, in store order.
type SimilaritySearcher interface {
	SimilarCompanies(ctx context.Context, name string, threshold float64) ([]ScoredCompany, error)
	SimilarSuppliers(ctx context.Context, name string, threshold float64) ([]ScoredSupplier, error)
}

type ScoredCompany struct {
	Company
	Score float64
}

type ScoredSupplier struct {
	Supplier
	Score float64
}
