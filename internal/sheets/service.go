// Package sheets appends processed invoices to a Google Sheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"invoiceocr/internal/logger"
	"invoiceocr/pkg/models"
)

// Result statuses
const (
	StatusComplete = "complete"
	StatusDraft    = "draft"
	StatusError    = "error"
)

var (
	ErrInvalidSheetURL    = errors.New("invalid Google Sheets URL format")
	ErrMissingCredentials = errors.New("neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set")
)

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

var headers = []interface{}{
	"Fichier", "N° facture", "Date", "Fournisseur", "Société", "HT",
	"TVA", "TTC", "Devise", "Échéance", "Score qualité", "Statut",
	"Remarques", "Traité le",
}

const dateLayout = "02/01/2006"

// lastColumn is the letter of the last header column
const lastColumn = "N"

// Credentials holds the service account key, inline or as a file path
type Credentials struct {
	JSON string
	File string
}

func (c Credentials) bytes() ([]byte, error) {
	switch {
	case c.File != "":
		return os.ReadFile(c.File)
	case c.JSON != "":
		return []byte(c.JSON), nil
	default:
		return nil, ErrMissingCredentials
	}
}

// Service handles Google Sheets operations
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	log           zerolog.Logger
}

// Result is the outcome of processing one file of a batch
type Result struct {
	Filename string
	Record   *models.InvoiceRecord
	Err      error
	Status   string
}

// NewSheetsService creates a new Google Sheets service
func NewSheetsService(ctx context.Context, sheetURL string, creds Credentials) (*Service, error) {
	const op = "NewSheetsService"

	log := logger.WithComponent("sheets")

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Extracted spreadsheet ID")

	key, err := creds.bytes()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read credentials: %w", op, err)
	}

	config, err := google.JWTConfigFromJSON(key, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	sheetsService, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		log:           log,
	}, nil
}

func extractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", ErrInvalidSheetURL
	}
	return matches[1], nil
}

// WriteInvoices appends one row per result to the named sheet, creating it when needed
func (s *Service) WriteInvoices(ctx context.Context, results []Result, sheetName string) error {
	const op = "WriteInvoices"

	s.log.Info().
		Str("sheet", sheetName).
		Int("rows", len(results)).
		Msg("Writing invoices to Google Sheet")

	if err := s.ensureSheetWithHeaders(ctx, sheetName); err != nil {
		return fmt.Errorf("%s: failed to ensure sheet exists: %w", op, err)
	}

	valueRange := &sheets.ValueRange{
		Values: resultsToRows(results, time.Now()),
	}

	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		sheetName+"!A:"+lastColumn,
		valueRange,
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	s.log.Info().
		Int("rows_written", len(valueRange.Values)).
		Msg("Successfully wrote invoices to Google Sheet")

	return nil
}

// resultsToRows converts batch results to sheet rows
func resultsToRows(results []Result, processedAt time.Time) [][]interface{} {
	stamp := processedAt.Format(dateLayout + " 15:04:05")
	rows := make([][]interface{}, 0, len(results))

	for _, result := range results {
		status := result.Status
		if status == "" {
			status = StatusOf(result.Record, result.Err)
		}

		if result.Err != nil || result.Record == nil {
			remark := ""
			if result.Err != nil {
				remark = "Erreur: " + result.Err.Error()
			}
			rows = append(rows, []interface{}{
				result.Filename, "", "", "", "", "", "", "", "", "", "", status, remark, stamp,
			})
			continue
		}

		rec := result.Record
		dueDate := ""
		if rec.DueDate != nil {
			dueDate = rec.DueDate.Format(dateLayout)
		}

		rows = append(rows, []interface{}{
			result.Filename,                    // A: Fichier
			rec.InvoiceNumber,                  // B: N° facture
			rec.InvoiceDate.Format(dateLayout), // C: Date
			rec.SupplierName(),                 // D: Fournisseur
			rec.Company.Code,                   // E: Société
			amountValue(rec.Amounts.ExclVAT),   // F: HT
			amountValue(rec.Amounts.VAT),       // G: TVA
			amountValue(rec.Amounts.InclVAT),   // H: TTC
			rec.Currency,                       // I: Devise
			dueDate,                            // J: Échéance
			rec.Verdict.DataQualityScore,       // K: Score qualité
			status,                             // L: Statut
			remarks(rec),                       // M: Remarques
			stamp,                              // N: Traité le
		})
	}

	return rows
}

// StatusOf returns the sheet status of a processed file
func StatusOf(rec *models.InvoiceRecord, err error) string {
	switch {
	case err != nil || rec == nil:
		return StatusError
	case rec.IsDraft:
		return StatusDraft
	default:
		return StatusComplete
	}
}

// amountValue leaves absent amounts as empty cells
func amountValue(v decimal.NullDecimal) interface{} {
	if !v.Valid {
		return ""
	}
	return v.Decimal.InexactFloat64()
}

func remarks(rec *models.InvoiceRecord) string {
	var parts []string
	for _, c := range rec.Corrections {
		parts = append(parts, c.Field+" corrigé")
	}
	if rec.InvoiceNumberSource == models.NumberGenerated {
		parts = append(parts, "numéro généré")
	}
	if rec.Supplier.Sentinel {
		parts = append(parts, "fournisseur inconnu")
	}
	if rec.LowOCRQuality {
		parts = append(parts, "OCR faible")
	}
	return strings.Join(parts, ", ")
}

// ensureSheetWithHeaders ensures the sheet exists and has proper headers
func (s *Service) ensureSheetWithHeaders(ctx context.Context, sheetName string) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetExists bool
	var sheetID int64
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties.Title == sheetName {
			sheetExists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !sheetExists {
		s.log.Info().Str("sheet", sheetName).Msg("Creating new sheet")

		batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheetName}}},
			},
		}

		resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}

	headerRange := fmt.Sprintf("%s!A1:%s1", sheetName, lastColumn)
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}

	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		s.log.Info().Str("sheet", sheetName).Msg("Adding headers to sheet")

		_, err = s.sheetsService.Spreadsheets.Values.Update(
			s.spreadsheetID,
			headerRange,
			&sheets.ValueRange{Values: [][]interface{}{headers}},
		).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to add headers: %w", op, err)
		}

		if err := s.formatHeaders(ctx, sheetID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
		}
	}

	return nil
}

// formatHeaders makes the header row bold and resizes the columns
func (s *Service) formatHeaders(ctx context.Context, sheetID int64) error {
	const op = "formatHeaders"

	columns := int64(len(headers))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	_, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}

	return nil
}
