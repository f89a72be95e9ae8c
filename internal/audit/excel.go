package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"glowdesk/internal/models"
)

// writeReport renders the month's notification log into an xlsx file: one
// sheet with the raw rows, one with per-rule counts.
func writeReport(path string, month time.Time, sent []models.ReminderSent) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	logSheet := "Notifications"
	f.SetSheetName("Sheet1", logSheet)

	if err := writeRow(f, logSheet, 1, []interface{}{"ID", "Booking ID", "Rule ID", "Status", "Sent At"}); err != nil {
		return err
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(logSheet, "A1", "E1", style)
	}

	byRule := make(map[int64]int)
	for i, r := range sent {
		byRule[r.RuleID]++
		row := []interface{}{r.ID, r.BookingID, r.RuleID, r.Status, r.SentAt.Format("2006-01-02 15:04")}
		if err := writeRow(f, logSheet, i+2, row); err != nil {
			return err
		}
	}

	summary := "Summary"
	if _, err := f.NewSheet(summary); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}
	if err := writeRow(f, summary, 1, []interface{}{"Month", month.Format("2006-01")}); err != nil {
		return err
	}
	if err := writeRow(f, summary, 2, []interface{}{"Total sent", len(sent)}); err != nil {
		return err
	}
	line := 3
	for ruleID, count := range byRule {
		if err := writeRow(f, summary, line, []interface{}{fmt.Sprintf("Rule %d", ruleID), count}); err != nil {
			return err
		}
		line++
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}
