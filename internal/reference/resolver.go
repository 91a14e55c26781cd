package reference

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"invoiceocr/internal/logger"
	"invoiceocr/internal/textnorm"
	"invoiceocr/pkg/models"
)

// CompanyFallback selects what ResolveCompany returns when nothing matches
type CompanyFallback string

const (
	// FallbackSentinel returns the DEFAULT_COMPANY sentinel
	FallbackSentinel CompanyFallback = "sentinel"
	// FallbackFirstRecord returns the first company of the store (single-tenant deployments)
	FallbackFirstRecord CompanyFallback = "first-record"
)

// Number of leading characters of a probe used for containment matching
const containmentPrefix = 10

// Options configure a Resolver
type Options struct {
	SimilarityThreshold float64
	CompanyFallback     CompanyFallback
}

func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 0.3,
		CompanyFallback:     FallbackSentinel,
	}
}

// Resolver matches candidate names against a reference store. It holds no store: the handle is
// passed on every call so that callers control its scope.
type Resolver struct {
	opts Options
	log  zerolog.Logger
}

func NewResolver(opts Options) *Resolver {
	if opts.CompanyFallback == "" {
		opts.CompanyFallback = FallbackSentinel
	}
	return &Resolver{
		opts: opts,
		log:  logger.WithComponent("reference-resolver"),
	}
}

// ResolveSupplier returns the best supplier for name, or the "Fournisseur Inconnu" sentinel
func (r *Resolver) ResolveSupplier(ctx context.Context, store Store, name string) models.EntityReference {
	probe := textnorm.Fold(name)
	if probe == "" || store == nil {
		return models.UnknownSupplier()
	}

	suppliers, err := store.FindActiveSuppliers(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("name", name).Msg("Supplier lookup failed, using sentinel")
		return models.UnknownSupplier()
	}

	if s, ok := matchByName(probe, suppliers, func(s Supplier) string { return s.Name }); ok {
		r.log.Debug().Str("name", name).Str("supplier", s.Name).Msg("Supplier matched by name")
		return supplierReference(s, 1)
	}

	if searcher, ok := store.(SimilaritySearcher); ok {
		scored, err := searcher.SimilarSuppliers(ctx, name, r.opts.SimilarityThreshold)
		switch {
		case errors.Is(err, ErrSimilarityUnsupported):
		case err != nil:
			r.log.Warn().Err(err).Str("name", name).Msg("Supplier similarity search failed")
		case len(scored) > 0:
			best := bestScored(scored, func(s ScoredSupplier) float64 { return s.Score })
			r.log.Debug().
				Str("name", name).
				Str("supplier", best.Name).
				Float64("similarity", best.Score).
				Msg("Supplier matched by similarity")
			return supplierReference(best.Supplier, best.Score)
		}
	}

	r.log.Info().Str("name", name).Msg("No matching supplier, using sentinel")
	return models.UnknownSupplier()
}

// ResolveCompany returns the best company for name. Without a match the configured fallback applies.
func (r *Resolver) ResolveCompany(ctx context.Context, store Store, name string) models.EntityReference {
	if store == nil {
		return models.DefaultCompany()
	}

	companies, err := store.FindCompanies(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("name", name).Msg("Company lookup failed, using sentinel")
		return models.DefaultCompany()
	}

	probe := textnorm.Fold(name)
	if probe != "" {
		if c, ok := matchByName(probe, companies, func(c Company) string { return c.Name }); ok {
			r.log.Debug().Str("name", name).Str("company", c.Code).Msg("Company matched by name")
			return companyReference(c, 1)
		}

		if searcher, ok := store.(SimilaritySearcher); ok {
			scored, err := searcher.SimilarCompanies(ctx, name, r.opts.SimilarityThreshold)
			switch {
			case errors.Is(err, ErrSimilarityUnsupported):
			case err != nil:
				r.log.Warn().Err(err).Str("name", name).Msg("Company similarity search failed")
			case len(scored) > 0:
				best := bestScored(scored, func(c ScoredCompany) float64 { return c.Score })
				return companyReference(best.Company, best.Score)
			}
		}
	}

	if r.opts.CompanyFallback == FallbackFirstRecord && len(companies) > 0 {
		r.log.Warn().
			Str("name", name).
			Str("company", companies[0].Code).
			Msg("No matching company, falling back to the first record")
		return companyReference(companies[0], 0)
	}

	r.log.Info().Str("name", name).Msg("No matching company, using sentinel")
	return models.DefaultCompany()
}

// matchByName looks for an exact folded match first, then for containment matches: the record
// contains the first characters of the probe, or the probe contains the record name. Among several
// containment matches the most similar name wins; ties keep store order.
func matchByName[T any](probe string, records []T, nameOf func(T) string) (T, bool) {
	var zero T
	for _, rec := range records {
		if textnorm.Fold(nameOf(rec)) == probe {
			return rec, true
		}
	}

	prefix := probe
	if runes := []rune(probe); len(runes) > containmentPrefix {
		prefix = strings.TrimSpace(string(runes[:containmentPrefix]))
	}
	var hits []T
	for _, rec := range records {
		folded := textnorm.Fold(nameOf(rec))
		if folded == "" {
			continue
		}
		// Very short names like "SA" would be found in almost any probe
		if strings.Contains(folded, prefix) || (len([]rune(folded)) >= 4 && strings.Contains(probe, folded)) {
			hits = append(hits, rec)
		}
	}
	if len(hits) == 0 {
		return zero, false
	}
	return bestScored(hits, func(rec T) float64 { return Similarity(probe, nameOf(rec)) }), true
}

// bestScored returns the highest score; ties keep store order
func bestScored[T any](scored []T, score func(T) float64) T {
	sorted := append([]T(nil), scored...)
	sort.SliceStable(sorted, func(i, j int) bool { return score(sorted[i]) > score(sorted[j]) })
	return sorted[0]
}

func supplierReference(s Supplier, similarity float64) models.EntityReference {
	name := s.Name
	if name == "" {
		name = models.UnknownSupplierName
	}
	return models.EntityReference{
		ID:      s.ID,
		Name:    name,
		TaxID:   s.TaxID,
		Address: s.Address,
		Contact: models.Contact{
			Name:  s.Contact,
			Email: s.Email,
			Phone: s.Phone,
		},
		Similarity: similarity,
	}
}

func companyReference(c Company, similarity float64) models.EntityReference {
	name := c.Name
	if name == "" {
		name = c.Code
	}
	if name == "" {
		name = models.DefaultCompanyCode
	}
	return models.EntityReference{
		Code:       c.Code,
		Name:       name,
		TaxID:      c.RCS,
		Address:    c.Address,
		Similarity: similarity,
	}
}
