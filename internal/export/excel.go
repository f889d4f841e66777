package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crmbridge/internal/models"

	"github.com/xuri/excelize/v2"
)

// Exporter writes operational Excel reports for manual intervention.
type Exporter struct {
	dir string
}

func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// WriteStuckReport writes stuck pending records to an xlsx file and returns
// its path.
func (e *Exporter) WriteStuckReport(records []models.PendingEntity) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Stuck records"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "Entity ID", "Type", "Action", "Attempts", "Last error", "Created", "Last touched"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	_ = f.SetCellStyle(sheetName, "A1", "H1", headerStyle)

	for row, rec := range records {
		lastError := ""
		if rec.LastError != nil {
			lastError = *rec.LastError
		}
		values := []interface{}{
			rec.ID,
			rec.EntityID,
			rec.EntityType,
			rec.Action,
			rec.Attempts,
			lastError,
			rec.CreatedAt.Format(time.RFC3339),
			rec.UpdatedAt.Format(time.RFC3339),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "B", 38)
	_ = f.SetColWidth(sheetName, "C", "E", 12)
	_ = f.SetColWidth(sheetName, "F", "H", 28)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("stuck_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	path := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving export file: %w", err)
	}

	return path, nil
}
