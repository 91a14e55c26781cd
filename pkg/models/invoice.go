package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel identities used in place of missing entities
const (
	UnknownSupplierName = "Fournisseur Inconnu"
	DefaultCompanyCode  = "DEFAULT_COMPANY"
	UnknownCustomerName = "Client Inconnu"
)

// InvoiceNumberSource tells where the invoice number of a record comes from
type InvoiceNumberSource string

const (
	NumberFromEnrichment InvoiceNumberSource = "enrichment"
	NumberFromPattern    InvoiceNumberSource = "pattern"
	NumberGenerated      InvoiceNumberSource = "generated"
)

// PaymentState mirrors the payment_state column of stored invoices
type PaymentState string

const (
	PaymentDraft     PaymentState = "DRAFT"
	PaymentPending   PaymentState = "PENDING"
	PaymentPaid      PaymentState = "PAID"
	PaymentOverdue   PaymentState = "OVERDUE"
	PaymentCancelled PaymentState = "CANCELLED"
)

type InvoiceRecord struct {
	// Identity
	ID                  uuid.UUID           `json:"id"`                    // Generated at assembly time
	InvoiceNumber       string              `json:"invoice_number"`        // Extracted or generated, never empty
	InvoiceNumberSource InvoiceNumberSource `json:"invoice_number_source"` // enrichment, pattern or generated

	// Dates
	InvoiceDate          time.Time  `json:"invoice_date"`           // Extracted date or the assembly day
	InvoiceDateDefaulted bool       `json:"invoice_date_defaulted"` // True when no date was found in the text
	DueDate              *time.Time `json:"due_date,omitempty"`     // Latest date of the document, if distinct

	// Parties
	Company      EntityReference `json:"company"`       // Resolved billed company
	Supplier     EntityReference `json:"supplier"`      // Resolved supplier reference
	SupplierInfo Party           `json:"supplier_info"` // Supplier data as read on the document
	CustomerInfo Party           `json:"customer_info"` // Customer data as read on the document

	// Amounts
	Amounts     MonetaryTriple      `json:"amounts"`
	AmountDue   decimal.NullDecimal `json:"amount_due"`
	Currency    string              `json:"currency"`
	Corrections []Correction        `json:"corrections,omitempty"` // Reconciliation changes, before and after

	// Status
	PaymentState PaymentState `json:"payment_state"`
	IsComplete   bool         `json:"is_complete"`
	IsDraft      bool         `json:"is_draft"`

	// Children
	LineItems []LineItem       `json:"line_items"`
	Goals     []GoalAllocation `json:"goals"`

	// Quality
	Confidence    float64           `json:"confidence"`      // Keyword confidence of the raw text
	OCRConfidence float64           `json:"ocr_confidence"`  // Confidence reported by the OCR engine
	LowOCRQuality bool              `json:"low_ocr_quality"` // OCR confidence under 0.5
	Verdict       ValidationVerdict `json:"validation"`

	// Source
	SourceFilename string        `json:"source_filename"`
	DocumentURL    string        `json:"document_url,omitempty"`
	RawText        string        `json:"-"`
	ProcessedAt    time.Time     `json:"processed_at"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// SupplierName returns the name to store for the supplier of the record
func (r *InvoiceRecord) SupplierName() string {
	if !r.Supplier.Sentinel {
		return r.Supplier.Name
	}
	if r.SupplierInfo.Name != "" {
		return r.SupplierInfo.Name
	}
	return r.Supplier.Name
}

// Party is the information printed on the document about one side of the invoice
type Party struct {
	Name      string  `json:"name,omitempty"`
	SIRET     string  `json:"siret,omitempty"`
	VATNumber string  `json:"vat_number,omitempty"`
	RCS       string  `json:"rcs,omitempty"`
	Address   Address `json:"address"`
	Contact   Contact `json:"contact"`
}

type Address struct {
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
}

// IsZero reports whether no address field is set
func (a Address) IsZero() bool {
	return a.Street == "" && a.PostalCode == "" && a.City == "" && a.Country == ""
}

// String formats the address on one line
func (a Address) String() string {
	out := a.Street
	locality := a.PostalCode
	if a.City != "" {
		if locality != "" {
			locality += " "
		}
		locality += a.City
	}
	for _, part := range []string{locality, a.Country} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	return out
}

type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// EntityReference is a business entity resolved against the reference store,
// or a sentinel standing for "no match".
type EntityReference struct {
	ID       string  `json:"id,omitempty"`   // Supplier identifier, empty for sentinels
	Code     string  `json:"code,omitempty"` // Company ERP code
	Name     string  `json:"name"`           // Never empty
	TaxID    string  `json:"tax_id,omitempty"`
	Address  string  `json:"address,omitempty"`
	Contact  Contact `json:"contact"`
	Sentinel bool    `json:"sentinel"`
	// Similarity is 1 for exact or containment matches and the store score otherwise
	Similarity float64 `json:"similarity,omitempty"`
}

// UnknownSupplier returns the supplier sentinel
func UnknownSupplier() EntityReference {
	return EntityReference{Name: UnknownSupplierName, Sentinel: true}
}

// DefaultCompany returns the company sentinel
func DefaultCompany() EntityReference {
	return EntityReference{Code: DefaultCompanyCode, Name: DefaultCompanyCode, Sentinel: true}
}

// MonetaryTriple holds the three invoice totals. Absent values are invalid NullDecimals.
type MonetaryTriple struct {
	ExclVAT decimal.NullDecimal `json:"excl_vat"`
	VAT     decimal.NullDecimal `json:"vat"`
	InclVAT decimal.NullDecimal `json:"incl_vat"`
}

// Present returns how many of the three amounts are set
func (m MonetaryTriple) Present() int {
	n := 0
	for _, v := range []decimal.NullDecimal{m.ExclVAT, m.VAT, m.InclVAT} {
		if v.Valid {
			n++
		}
	}
	return n
}

// Correction records a value changed or filled in by reconciliation
type Correction struct {
	Field  string              `json:"field"`
	Before decimal.NullDecimal `json:"before"`
	After  decimal.NullDecimal `json:"after"`
	Reason string              `json:"reason"`
}

type LineItem struct {
	LineNumber    int             `json:"line_number"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	VATRate       decimal.Decimal `json:"vat_rate"` // 0.20 for 20%
	AmountExclVAT decimal.Decimal `json:"amount_excl_vat"`
	VATAmount     decimal.Decimal `json:"vat_amount"`
	AmountInclVAT decimal.Decimal `json:"amount_incl_vat"`
}

// GoalAllocation apportions an invoice amount to a budget line
type GoalAllocation struct {
	GoalID            string          `json:"goal_id,omitempty"`
	PostID            string          `json:"post_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	GoalAccountNumber string          `json:"goal_account_number,omitempty"`
	PostAccountNumber string          `json:"post_account_number,omitempty"`
}

type ValidationVerdict struct {
	CalculationCheck      bool    `json:"calculation_check"`
	RequiredFieldsPresent bool    `json:"required_fields_present"`
	DataQualityScore      float64 `json:"data_quality_score"`
	Strategy              string  `json:"strategy"`
}
