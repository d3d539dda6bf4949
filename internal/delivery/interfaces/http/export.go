package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	delivery "plantwatch/internal/delivery/domain"
)

func periodLabel(filter delivery.LogFilter) string {
	from, to := filter.From, filter.To
	if from == "" {
		from = "start"
	}
	if to == "" {
		to = "today"
	}
	return from + " .. " + to
}

func attemptTime(entry delivery.LogEntry) string {
	if entry.LastAttempt.IsZero() {
		return ""
	}
	return entry.LastAttempt.UTC().Format(time.RFC3339)
}

// BuildLogPDF renders the delivery log as a PDF table.
func BuildLogPDF(filter delivery.LogFilter, entries []delivery.LogEntry) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Notification Delivery Log")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", periodLabel(filter)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Entries: %d", len(entries)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	headers := []struct {
		title string
		width float64
	}{
		{"Day", 25}, {"Kind", 30}, {"Status", 20}, {"Retries", 18}, {"Last Attempt", 45}, {"Subject", 70}, {"Error", 65},
	}
	for _, h := range headers {
		pdf.CellFormat(h.width, 6, h.title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, entry := range entries {
		pdf.CellFormat(25, 6, entry.Day, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, string(entry.Kind), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, string(entry.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(18, 6, fmt.Sprintf("%d", entry.RetryCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(45, 6, attemptTime(entry), "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, truncate(entry.Subject, 45), "1", 0, "L", false, 0, "")
		pdf.CellFormat(65, 6, truncate(entry.Error, 40), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildLogXLSX renders the delivery log as a workbook with a summary sheet.
func BuildLogXLSX(filter delivery.LogFilter, entries []delivery.LogEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	entriesSheet := "entries"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(entriesSheet); err != nil {
		return nil, err
	}

	counts := map[delivery.LogStatus]int{}
	for _, entry := range entries {
		counts[entry.Status]++
	}
	_ = f.SetCellValue(summarySheet, "A1", "Notification Delivery Log")
	_ = f.SetCellValue(summarySheet, "A3", "Period")
	_ = f.SetCellValue(summarySheet, "B3", periodLabel(filter))
	_ = f.SetCellValue(summarySheet, "A4", "Entries")
	_ = f.SetCellValue(summarySheet, "B4", len(entries))
	_ = f.SetCellValue(summarySheet, "A5", "Sent")
	_ = f.SetCellValue(summarySheet, "B5", counts[delivery.LogSent])
	_ = f.SetCellValue(summarySheet, "A6", "Failed")
	_ = f.SetCellValue(summarySheet, "B6", counts[delivery.LogFailed])
	_ = f.SetCellValue(summarySheet, "A7", "Pending")
	_ = f.SetCellValue(summarySheet, "B7", counts[delivery.LogPending])

	for i, title := range []string{"Day", "Kind", "Job", "Status", "Retries", "Last Attempt", "Subject", "Error"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(entriesSheet, cell, title)
	}
	for i, entry := range entries {
		row := i + 2
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("A%d", row), entry.Day)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("B%d", row), string(entry.Kind))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("C%d", row), entry.JobID)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("D%d", row), string(entry.Status))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("E%d", row), entry.RetryCount)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("F%d", row), attemptTime(entry))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("G%d", row), entry.Subject)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("H%d", row), entry.Error)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "~"
}
