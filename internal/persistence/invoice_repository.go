package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"invoiceocr/internal/logger"
	"invoiceocr/internal/reconcile"
	"invoiceocr/pkg/models"
)

// MaxRawTextLength caps the OCR text kept in invoice_ml_data, in characters
const MaxRawTextLength = 10000

// InvoiceRepository stores assembled invoices with their children
type InvoiceRepository struct {
	db        *Database
	threshold decimal.Decimal
	log       zerolog.Logger
}

// NewInvoiceRepository creates a repository. The confidence threshold is recorded with every invoice.
func NewInvoiceRepository(db *Database, confidenceThreshold float64) *InvoiceRepository {
	return &InvoiceRepository{
		db:        db,
		threshold: decimal.NewFromFloat(confidenceThreshold).Round(2),
		log:       logger.WithComponent("invoice-repository"),
	}
}

// Save writes the invoice, its goal allocations, line items and extraction trace in one
// transaction. Nothing is written when any insert fails.
func (r *InvoiceRepository) Save(ctx context.Context, rec *models.InvoiceRecord) (uuid.UUID, error) {
	const op = "Save"

	invoice := invoiceFromRecord(rec)
	goals := goalsFromRecord(invoice.ID, rec)
	items := lineItemsFromRecord(invoice.ID, rec)
	trace, err := r.mlDataFromRecord(invoice.ID, rec)
	if err != nil {
		return uuid.Nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrSaveFailed, err), "encode extracted data")
	}

	err = r.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&invoice).Error; err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		if len(goals) > 0 {
			if err := tx.Create(&goals).Error; err != nil {
				return fmt.Errorf("insert goals: %w", err)
			}
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return fmt.Errorf("insert line items: %w", err)
			}
		}
		if err := tx.Create(&trace).Error; err != nil {
			return fmt.Errorf("insert ml data: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrSaveFailed, err), rec.InvoiceNumber)
	}

	r.log.Info().
		Str("invoice_id", invoice.ID.String()).
		Str("invoice_number", invoice.InvoiceNumber).
		Int("line_items", len(items)).
		Msg("Invoice saved")
	return invoice.ID, nil
}

// RecentVATRatios returns vat/excluding_taxes of the most recent invoices showing both amounts,
// newest first.
func (r *InvoiceRepository) RecentVATRatios(ctx context.Context, limit int) ([]decimal.Decimal, error) {
	const op = "RecentVATRatios"

	var rows []struct {
		ExcludingTaxes decimal.NullDecimal
		VAT            decimal.NullDecimal
	}
	err := r.db.DB.WithContext(ctx).
		Model(&Invoice{}).
		Select("excluding_taxes", "vat").
		Where("excluding_taxes > ? AND vat IS NOT NULL", 0).
		Order("created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrQueryFailed, err), "")
	}

	ratios := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		if !row.ExcludingTaxes.Valid || !row.VAT.Valid || row.ExcludingTaxes.Decimal.IsZero() {
			continue
		}
		ratios = append(ratios, row.VAT.Decimal.Div(row.ExcludingTaxes.Decimal))
	}
	return ratios, nil
}

// FindByID loads a stored invoice header
func (r *InvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	const op = "FindByID"

	var invoice Invoice
	if err := r.db.DB.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		return nil, WrapRepositoryError(op, fmt.Errorf("%w: %w", ErrQueryFailed, err), id.String())
	}
	return &invoice, nil
}

func invoiceFromRecord(rec *models.InvoiceRecord) Invoice {
	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	invoice := Invoice{
		ID:             id,
		InvoiceNumber:  rec.InvoiceNumber,
		InvoiceDate:    rec.InvoiceDate,
		DueDate:        rec.DueDate,
		SupplierName:   rec.SupplierName(),
		ExcludingTaxes: rec.Amounts.ExclVAT,
		VAT:            rec.Amounts.VAT,
		IncludingTaxes: includingTaxes(rec),
		PaymentState:   string(rec.PaymentState),
		CurrencyCode:   rec.Currency,
		IsComplete:     rec.IsComplete,
		IsDraft:        rec.IsDraft,
		DocumentURL:    rec.DocumentURL,
	}
	if !rec.Company.Sentinel && rec.Company.Code != "" {
		code := rec.Company.Code
		invoice.CompanyERPCode = &code
	}
	if !rec.Supplier.Sentinel {
		if supplierID, err := uuid.Parse(rec.Supplier.ID); err == nil {
			invoice.SupplierID = &supplierID
		}
	}
	return invoice
}

// includingTaxes is the non-null total column: the total, else the amount due, else zero
func includingTaxes(rec *models.InvoiceRecord) decimal.Decimal {
	if rec.Amounts.InclVAT.Valid {
		return rec.Amounts.InclVAT.Decimal
	}
	if rec.AmountDue.Valid {
		return rec.AmountDue.Decimal
	}
	return decimal.Zero
}

func goalsFromRecord(invoiceID uuid.UUID, rec *models.InvoiceRecord) []InvoiceGoal {
	goals := make([]InvoiceGoal, 0, len(rec.Goals))
	for _, g := range rec.Goals {
		goals = append(goals, InvoiceGoal{
			ID:                uuid.New(),
			InvoiceID:         invoiceID,
			GoalID:            g.GoalID,
			PostID:            g.PostID,
			Amount:            g.Amount,
			GoalAccountNumber: g.GoalAccountNumber,
			PostAccountNumber: g.PostAccountNumber,
		})
	}
	return goals
}

func lineItemsFromRecord(invoiceID uuid.UUID, rec *models.InvoiceRecord) []InvoiceLineItem {
	items := make([]InvoiceLineItem, 0, len(rec.LineItems))
	for _, li := range rec.LineItems {
		items = append(items, InvoiceLineItem{
			ID:            uuid.New(),
			InvoiceID:     invoiceID,
			LineNumber:    li.LineNumber,
			Description:   li.Description,
			Quantity:      li.Quantity,
			UnitPrice:     li.UnitPrice,
			VATRate:       li.VATRate,
			AmountExclVAT: li.AmountExclVAT,
			VATAmount:     li.VATAmount,
			AmountInclVAT: li.AmountInclVAT,
		})
	}
	return items
}

func (r *InvoiceRepository) mlDataFromRecord(invoiceID uuid.UUID, rec *models.InvoiceRecord) (InvoiceMLData, error) {
	extracted, err := json.Marshal(rec)
	if err != nil {
		return InvoiceMLData{}, err
	}

	return InvoiceMLData{
		ID:                  uuid.New(),
		InvoiceID:           invoiceID,
		RawText:             truncateRunes(rec.RawText, MaxRawTextLength),
		ExtractedData:       string(extracted),
		ConfidenceScore:     decimal.NewFromFloat(rec.Confidence).Round(2),
		ProcessingTime:      decimal.NewFromFloat(rec.ProcessingTime.Seconds()).Round(3),
		ValidationScore:     decimal.NewFromFloat(validationScore(rec)).Round(2),
		DataQualityScore:    decimal.NewFromFloat(rec.Verdict.DataQualityScore).Round(2),
		ConfidenceThreshold: r.threshold,
	}, nil
}

// validationScore is the share of passed checks: invoice number, invoice date and total present,
// plus the amount consistency when all three amounts are known.
func validationScore(rec *models.InvoiceRecord) float64 {
	checks, passed := 3, 0
	if rec.InvoiceNumberSource != models.NumberGenerated {
		passed++
	}
	if !rec.InvoiceDateDefaulted {
		passed++
	}
	if rec.Amounts.InclVAT.Valid {
		passed++
	}
	if rec.Amounts.Present() == 3 {
		checks++
		consistent := true
		for _, c := range rec.Corrections {
			if c.Reason == reconcile.ReasonInconsistent {
				consistent = false
			}
		}
		if consistent {
			passed++
		}
	}
	return float64(passed) / float64(checks)
}

func truncateRunes(s string, limit int) string {
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
