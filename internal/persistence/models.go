package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Company is a billed company of the group
type Company struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ERPCode   string    `gorm:"column:company_erp_code;size:255;not null;uniqueIndex"`
	RCS       string    `gorm:"column:company_rcs;size:255"`
	Address   string    `gorm:"column:company_address;type:text"`
	Name      string    `gorm:"column:company_name;size:255;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Company) TableName() string { return "company" }

// Supplier is a known supplier
type Supplier struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	SocialReason string    `gorm:"size:255;not null"`
	RCS          string    `gorm:"size:255"`
	Address      string    `gorm:"type:text"`
	Email        string    `gorm:"size:255"`
	PhoneNumber  string    `gorm:"size:50"`
	ContactName  string    `gorm:"size:255"`
	IsActive     bool      `gorm:"not null;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Supplier) TableName() string { return "supplier" }

// Invoice is the stored invoice header
type Invoice struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey"`
	InvoiceNumber  string              `gorm:"size:255;index"`
	InvoiceDate    time.Time           `gorm:"type:date;not null"`
	DueDate        *time.Time          `gorm:"type:date"`
	CompanyERPCode *string             `gorm:"column:company_erp_code;size:255;index"` // Nil for the sentinel company
	SupplierName   string              `gorm:"size:255"`
	SupplierID     *uuid.UUID          `gorm:"type:uuid;index"` // Nil for the sentinel supplier
	ExcludingTaxes decimal.NullDecimal `gorm:"type:numeric(10,2)"`
	VAT            decimal.NullDecimal `gorm:"column:vat;type:numeric(10,2)"`
	IncludingTaxes decimal.Decimal     `gorm:"type:numeric(10,2);not null"`
	PaymentState   string              `gorm:"size:100"`
	CurrencyCode   string              `gorm:"size:3;not null"`
	IsComplete     bool
	IsDraft        bool
	DocumentURL    string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Invoice) TableName() string { return "invoice" }

// InvoiceGoal apportions an invoice amount to a budget line
type InvoiceGoal struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	InvoiceID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	GoalID            string          `gorm:"size:64"`
	PostID            string          `gorm:"size:64"`
	Amount            decimal.Decimal `gorm:"type:numeric(10,2)"`
	GoalAccountNumber string          `gorm:"size:32"`
	PostAccountNumber string          `gorm:"size:32"`
	CreatedAt         time.Time
}

func (InvoiceGoal) TableName() string { return "invoice_goal" }

// InvoiceLineItem is one line of a stored invoice
type InvoiceLineItem struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	InvoiceID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	LineNumber    int             `gorm:"not null"`
	Description   string          `gorm:"type:text"`
	Quantity      decimal.Decimal `gorm:"type:numeric(10,3)"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(10,2)"`
	VATRate       decimal.Decimal `gorm:"type:numeric(5,4)"`
	AmountExclVAT decimal.Decimal `gorm:"type:numeric(10,2)"`
	VATAmount     decimal.Decimal `gorm:"column:vat_amount;type:numeric(10,2)"`
	AmountInclVAT decimal.Decimal `gorm:"type:numeric(10,2)"`
	CreatedAt     time.Time
}

func (InvoiceLineItem) TableName() string { return "invoice_line_item" }

// InvoiceMLData keeps the extraction trace of an invoice
type InvoiceMLData struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey"`
	InvoiceID           uuid.UUID       `gorm:"type:uuid;not null;index"`
	RawText             string          `gorm:"type:text"`
	ExtractedData       string          `gorm:"type:text"` // JSON
	ConfidenceScore     decimal.Decimal `gorm:"type:numeric(3,2)"`
	ProcessingTime      decimal.Decimal `gorm:"type:numeric(10,3)"` // seconds
	ValidationScore     decimal.Decimal `gorm:"type:numeric(3,2)"`
	DataQualityScore    decimal.Decimal `gorm:"type:numeric(3,2)"`
	ConfidenceThreshold decimal.Decimal `gorm:"type:numeric(3,2)"`
	CreatedAt           time.Time
}

func (InvoiceMLData) TableName() string { return "invoice_ml_data" }

// AllModels lists the models managed by Migrate
func AllModels() []any {
	return []any{
		&Company{},
		&Supplier{},
		&Invoice{},
		&InvoiceGoal{},
		&InvoiceLineItem{},
		&InvoiceMLData{},
	}
}
