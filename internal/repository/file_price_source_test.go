package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"BrentBreaks/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFilePriceSource_CSVWithHeader(t *testing.T) {
	path := writeFile(t, "prices.csv", "Date,Price\n20-May-87,18.63\n21-May-87,18.45\n\n22-May-87,bad\n")
	got, err := NewFilePriceSource(path).Prices(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []models.RawRecord{
		{Line: 2, Date: "20-May-87", Price: "18.63"},
		{Line: 3, Date: "21-May-87", Price: "18.45"},
		{Line: 5, Date: "22-May-87", Price: "bad"},
	}, got)
}

func TestFilePriceSource_CSVHeaderlessAndReordered(t *testing.T) {
	path := writeFile(t, "a.csv", "2020-01-02,61.2\n2020-01-03,63.0\n")
	got, err := NewFilePriceSource(path).Prices(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Line)

	path = writeFile(t, "b.csv", "price,volume,date\n61.2,10,2020-01-02\n")
	got, err = NewFilePriceSource(path).Prices(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []models.RawRecord{{Line: 2, Date: "2020-01-02", Price: "61.2"}}, got)
}

func TestFilePriceSource_Bounds(t *testing.T) {
	path := writeFile(t, "prices.csv", "Date,Price\n2020-01-02,1\n2020-02-03,2\nnot-a-date,3\n2020-03-02,4\n")
	src := NewFilePriceSource(path, WithFileLayouts("2006-01-02"))
	got, err := src.Prices(context.Background(), time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 2, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2020-02-03", got[0].Date)
	assert.Equal(t, "not-a-date", got[1].Date, "unparseable rows are left to the loader")
}

func TestFilePriceSource_Workbook(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"Date", "Price"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"2020-01-02", "61.2"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"2020-01-03", "63"}))
	path := filepath.Join(t.TempDir(), "prices.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	got, err := NewFilePriceSource(path).Prices(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []models.RawRecord{
		{Line: 2, Date: "2020-01-02", Price: "61.2"},
		{Line: 3, Date: "2020-01-03", Price: "63"},
	}, got)
}

func TestFilePriceSource_MissingFile(t *testing.T) {
	_, err := NewFilePriceSource(filepath.Join(t.TempDir(), "absent.csv")).Prices(context.Background(), time.Time{}, time.Time{})
	assert.Error(t, err)
}
