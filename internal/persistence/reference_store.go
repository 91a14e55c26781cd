package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoiceocr/internal/logger"
	"invoiceocr/internal/reference"
)

// ReferenceStore reads companies and suppliers for the reference resolver. Records come back in
// creation order.
type ReferenceStore struct {
	db  *Database
	log zerolog.Logger
}

func NewReferenceStore(db *Database) *ReferenceStore {
	return &ReferenceStore{
		db:  db,
		log: logger.WithComponent("reference-store"),
	}
}

type companyMatch struct {
	Company
	Score float64
}

type supplierMatch struct {
	Supplier
	Score float64
}

func (s *ReferenceStore) FindCompanies(ctx context.Context) ([]reference.Company, error) {
	const op = "FindCompanies"

	var rows []Company
	if err := s.db.DB.WithContext(ctx).Order("created_at ASC").Order("company_erp_code ASC").Find(&rows).Error; err != nil {
		return nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrQueryFailed, err), "")
	}

	companies := make([]reference.Company, 0, len(rows))
	for _, row := range rows {
		companies = append(companies, toReferenceCompany(row))
	}
	return companies, nil
}

func (s *ReferenceStore) FindActiveSuppliers(ctx context.Context) ([]reference.Supplier, error) {
	const op = "FindActiveSuppliers"

	var rows []Supplier
	err := s.db.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Order("social_reason ASC").
		Find(&rows).Error
	if err != nil {
		return nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrQueryFailed, err), "")
	}

	suppliers := make([]reference.Supplier, 0, len(rows))
	for _, row := range rows {
		suppliers = append(suppliers, toReferenceSupplier(row))
	}
	return suppliers, nil
}

// SimilarCompanies ranks companies by pg_trgm similarity. Other dialects return
// reference.ErrSimilarityUnsupported.
func (s *ReferenceStore) SimilarCompanies(ctx context.Context, name string, threshold float64) ([]reference.ScoredCompany, error) {
	const op = "SimilarCompanies"

	if !s.db.IsPostgres() {
		return nil, reference.ErrSimilarityUnsupported
	}

	var rows []companyMatch
	err := s.db.DB.WithContext(ctx).Raw(
		`SELECT *, similarity(company_name, ?) AS score FROM company
		WHERE similarity(company_name, ?) > ?
		ORDER BY score DESC, created_at ASC`,
		name, name, threshold,
	).Scan(&rows).Error
	if err != nil {
		return nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrQueryFailed, err), name)
	}

	scored := make([]reference.ScoredCompany, 0, len(rows))
	for _, row := range rows {
		scored = append(scored, reference.ScoredCompany{Company: toReferenceCompany(row.Company), Score: row.Score})
	}
	return scored, nil
}

// SimilarSuppliers ranks active suppliers by pg_trgm similarity. Other dialects return
// reference.ErrSimilarityUnsupported.
func (s *ReferenceStore) SimilarSuppliers(ctx context.Context, name string, threshold float64) ([]reference.ScoredSupplier, error) {
	const op = "SimilarSuppliers"

	if !s.db.IsPostgres() {
		return nil, reference.ErrSimilarityUnsupported
	}

	var rows []supplierMatch
	err := s.db.DB.WithContext(ctx).Raw(
		`SELECT *, similarity(social_reason, ?) AS score FROM supplier
		WHERE is_active = true AND similarity(social_reason, ?) > ?
		ORDER BY score DESC, created_at ASC`,
		name, name, threshold,
	).Scan(&rows).Error
	if err != nil {
		return nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrQueryFailed, err), name)
	}

	scored := make([]reference.ScoredSupplier, 0, len(rows))
	for _, row := range rows {
		scored = append(scored, reference.ScoredSupplier{Supplier: toReferenceSupplier(row.Supplier), Score: row.Score})
	}
	return scored, nil
}

// CreateCompany inserts a company
func (s *ReferenceStore) CreateCompany(ctx context.Context, c reference.Company) error {
	const op = "CreateCompany"

	row := Company{
		ID:      uuid.New(),
		ERPCode: c.Code,
		RCS:     c.RCS,
		Address: c.Address,
		Name:    c.Name,
	}
	if err := s.db.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return WrapRepositoryError(op, err, c.Code)
	}
	return nil
}

// CreateSupplier inserts a supplier and returns its identifier. A valid UUID in s.ID is kept.
func (s *ReferenceStore) CreateSupplier(ctx context.Context, sup reference.Supplier) (string, error) {
	const op = "CreateSupplier"

	id, err := uuid.Parse(sup.ID)
	if err != nil {
		id = uuid.New()
	}
	row := Supplier{
		ID:           id,
		SocialReason: sup.Name,
		RCS:          sup.TaxID,
		Address:      sup.Address,
		Email:        sup.Email,
		PhoneNumber:  sup.Phone,
		ContactName:  sup.Contact,
		IsActive:     sup.Active,
	}
	if err := s.db.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return "", WrapRepositoryError(op, err, sup.Name)
	}
	return id.String(), nil
}

func toReferenceCompany(c Company) reference.Company {
	return reference.Company{
		Code:    c.ERPCode,
		Name:    c.Name,
		RCS:     c.RCS,
		Address: c.Address,
	}
}

func toReferenceSupplier(s Supplier) reference.Supplier {
	return reference.Supplier{
		ID:      s.ID.String(),
		Name:    s.SocialReason,
		TaxID:   s.RCS,
		Address: s.Address,
		Email:   s.Email,
		Phone:   s.PhoneNumber,
		Contact: s.ContactName,
		Active:  s.IsActive,
	}
}
