package fetcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTestXLSX(t *testing.T, sheetName string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, row := range rows {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestStreamXLSX_WithHeader(t *testing.T) {
	path := writeTestXLSX(t, "Stores", [][]string{
		{"store_id", "name", "city"},
		{"own-001", "Connaught Place", "New Delhi"},
		{"own-002", "Bandra West", "Mumbai"},
	})

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamXLSX(context.Background(), path, XLSXOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	rows := collectRows(t, rowCh, errCh)
	assert.Equal(t, []string{"store_id", "name", "city"}, <-headerCh)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, []string{"own-001", "Connaught Place", "New Delhi"}, rows[0].Fields)
}

func TestStreamXLSX_SheetByName(t *testing.T) {
	path := writeTestXLSX(t, "Competitors", [][]string{
		{"cmp-001", "DMart Saket"},
	})

	rowCh, errCh := StreamXLSX(context.Background(), path, XLSXOptions{SheetName: "Competitors"})
	rows := collectRows(t, rowCh, errCh)
	require.Len(t, rows, 1)
	assert.Equal(t, "cmp-001", rows[0].Fields[0])
}

func TestStreamXLSX_MissingSheet(t *testing.T) {
	path := writeTestXLSX(t, "Stores", [][]string{{"a"}})

	rowCh, errCh := StreamXLSX(context.Background(), path, XLSXOptions{SheetName: "Nope"})
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Nope" not found`)
}

func TestStreamXLSX_MissingFile(t *testing.T) {
	rowCh, errCh := StreamXLSX(context.Background(), filepath.Join(t.TempDir(), "absent.xlsx"), XLSXOptions{})
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open file")
}
