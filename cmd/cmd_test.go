package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceocr/internal/sheets"
)

const seedJSON = `{
  "companies": [{"code": "MART01", "name": "Martin SA"}],
  "suppliers": [
    {"id": "s-1", "name": "Entreprise ABC", "tax_id": "FR12345678901"},
    {"name": "Ancien Fournisseur", "active": false}
  ]
}`

const invoiceText = `Entreprise ABC
FACTURE N° F2025-001
Date: 19/08/2025
Facturé à: Martin SA
Total HT: 1000,00
TVA 20%: 200,00
Total TTC: 1200,00`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testApp(t *testing.T) *app {
	t.Helper()
	t.Setenv("DATABASE_DSN", "")

	seed := writeFile(t, t.TempDir(), "reference.json", seedJSON)
	cfg, err := loadConfig()
	require.NoError(t, err)

	a, err := newApp(cfg, appOptions{referenceFile: seed}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestLoadSeedFile(t *testing.T) {
	seed, err := loadSeedFile(writeFile(t, t.TempDir(), "reference.json", seedJSON))
	require.NoError(t, err)

	companies := seed.companies()
	require.Len(t, companies, 1)
	assert.Equal(t, "MART01", companies[0].Code)

	suppliers := seed.suppliers()
	require.Len(t, suppliers, 2)
	assert.Equal(t, "s-1", suppliers[0].ID)
	assert.True(t, suppliers[0].Active, "suppliers are active unless stated otherwise")
	assert.Equal(t, "seed-2", suppliers[1].ID)
	assert.False(t, suppliers[1].Active)
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	_, err := loadSeedFile(writeFile(t, t.TempDir(), "reference.json", "{"))
	assert.Error(t, err)

	_, err = loadSeedFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNewApp_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	cfg, err := loadConfig()
	require.NoError(t, err)

	_, err = newApp(cfg, appOptions{requireDB: true}, zerolog.Nop())
	assert.EqualError(t, err, "DATABASE_DSN is not set")
}

func TestFindInputFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "x")
	writeFile(t, dir, "b.TXT", "x")
	writeFile(t, dir, "c.json", "{}")
	writeFile(t, dir, "notes.md", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	writeFile(t, filepath.Join(dir, "sub"), "d.png", "x")

	files, err := findInputFiles(dir, []string{"pdf", "png"})
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.ElementsMatch(t, []string{"a.pdf", "b.TXT", "c.json", "d.png"}, names)
	assert.True(t, needsOCR(files))
	assert.False(t, needsOCR([]string{"b.TXT", "c.json"}))
}

func TestProcessBatchFile(t *testing.T) {
	a := testApp(t)
	dir := t.TempDir()
	deps := batchDeps{app: a, language: "fra"}

	result := processBatchFile(context.Background(), writeFile(t, dir, "facture.txt", invoiceText), deps, zerolog.Nop())
	require.NoError(t, result.Err)
	require.NotNil(t, result.Record)
	assert.Equal(t, "facture.txt", result.Filename)
	assert.Equal(t, "facture.txt", result.Record.SourceFilename)
	assert.NotEqual(t, sheets.StatusError, result.Status)

	result = processBatchFile(context.Background(), writeFile(t, dir, "scan.png", "not an image"), deps, zerolog.Nop())
	assert.Error(t, result.Err, "images need an OCR service")
	assert.Equal(t, sheets.StatusError, result.Status)
	assert.Nil(t, result.Record)
}

func TestProcessFilesInParallel_KeepsOrder(t *testing.T) {
	a := testApp(t)
	dir := t.TempDir()
	files := []string{
		writeFile(t, dir, "1.txt", invoiceText),
		writeFile(t, dir, "2.txt", "Total TTC: 42,00"),
		writeFile(t, dir, "3.json", `{"text": "FACTURE N° F-3", "file_name": "three.pdf"}`),
	}

	results := processFilesInParallel(context.Background(), files, batchDeps{app: a, language: "fra"}, 2, zerolog.Nop())

	require.Len(t, results, 3)
	assert.Equal(t, "1.txt", results[0].Filename)
	assert.Equal(t, "2.txt", results[1].Filename)
	assert.Equal(t, "three.pdf", results[2].Filename)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.NotNil(t, r.Record)
	}
}
