package reference

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"invoiceocr/internal/logger"
)

const snapshotKey = "all"

// CachedStore keeps a short-lived snapshot of the reference lists of another store.
// Similarity queries are passed through uncached.
type CachedStore struct {
	inner     Store
	companies *ttlcache.Cache[string, []Company]
	suppliers *ttlcache.Cache[string, []Supplier]
	log       zerolog.Logger
}

// NewCachedStore wraps inner. A zero or negative ttl disables caching.
func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	return &CachedStore{
		inner: inner,
		companies: ttlcache.New(
			ttlcache.WithTTL[string, []Company](ttl),
			ttlcache.WithDisableTouchOnHit[string, []Company](),
		),
		suppliers: ttlcache.New(
			ttlcache.WithTTL[string, []Supplier](ttl),
			ttlcache.WithDisableTouchOnHit[string, []Supplier](),
		),
		log: logger.WithComponent("reference-cache"),
	}
}

func (c *CachedStore) FindCompanies(ctx context.Context) ([]Company, error) {
	if item := c.companies.Get(snapshotKey); item != nil {
		return item.Value(), nil
	}
	companies, err := c.inner.FindCompanies(ctx)
	if err != nil {
		return nil, err
	}
	c.companies.Set(snapshotKey, companies, ttlcache.DefaultTTL)
	c.log.Debug().Int("count", len(companies)).Msg("Company snapshot refreshed")
	return companies, nil
}

func (c *CachedStore) FindActiveSuppliers(ctx context.Context) ([]Supplier, error) {
	if item := c.suppliers.Get(snapshotKey); item != nil {
		return item.Value(), nil
	}
	suppliers, err := c.inner.FindActiveSuppliers(ctx)
	if err != nil {
		return nil, err
	}
	c.suppliers.Set(snapshotKey, suppliers, ttlcache.DefaultTTL)
	c.log.Debug().Int("count", len(suppliers)).Msg("Supplier snapshot refreshed")
	return suppliers, nil
}

func (c *CachedStore) SimilarCompanies(ctx context.Context, name string, threshold float64) ([]ScoredCompany, error) {
	s, ok := c.inner.(SimilaritySearcher)
	if !ok {
		return nil, ErrSimilarityUnsupported
	}
	return s.SimilarCompanies(ctx, name, threshold)
}

func (c *CachedStore) SimilarSuppliers(ctx context.Context, name string, threshold float64) ([]ScoredSupplier, error) {
	s, ok := c.inner.(SimilaritySearcher)
	if !ok {
		return nil, ErrSimilarityUnsupported
	}
	return s.SimilarSuppliers(ctx, name, threshold)
}

// Invalidate drops the cached snapshots, typically after a supplier was created
func (c *CachedStore) Invalidate() {
	c.companies.DeleteAll()
	c.suppliers.DeleteAll()
}
