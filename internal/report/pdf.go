package report

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/mavlog/internal/common"
)

// SaveSummaryPDF renders the decode summary into a PDF document with the
// file fingerprint embedded as a QR code.
func SaveSummaryPDF(sum Summary, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Log Decode Summary", false)
	pdf.SetAuthor("mavlogctl", false)
	pdf.SetCreator("mavlogctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Log Decode Summary")
	addFileSection(pdf, sum)
	addTypeSection(pdf, sum.Types)
	addDiagnosticsSection(pdf, sum)
	addFingerprintQR(pdf, sum.SHA256)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addFileSection(pdf *gofpdf.Fpdf, sum Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "File")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Path", value: sum.File},
		{label: "Size", value: common.FormatBytes(sum.SizeBytes)},
		{label: "SHA-256", value: sum.SHA256},
		{label: "Generated", value: sum.Generated.Format(time.RFC3339)},
		{label: "Messages", value: strconv.Itoa(sum.Total)},
	}
	for _, item := range items {
		pdf.CellFormat(35, 6, item.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(0, 6, item.value, "", "L", false)
	}
	pdf.Ln(4)
}

func addTypeSection(pdf *gofpdf.Fpdf, rows []TypeCount) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Message Types")
	pdf.Ln(9)

	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No messages decoded.", "", "L", false)
		pdf.Ln(4)
		return
	}

	headers := []string{"Type", "Count"}
	widths := []float64{60, 40}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		pdf.CellFormat(widths[0], 6, row.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, strconv.Itoa(row.Count), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)
}

func addDiagnosticsSection(pdf *gofpdf.Fpdf, sum Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Diagnostics")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	lines := []string{
		fmt.Sprintf("Resyncs: %d", sum.Resyncs),
	}
	if sum.DurationMs > 0 {
		lines = append(lines, fmt.Sprintf("Duration: %d ms", sum.DurationMs))
		lines = append(lines, fmt.Sprintf("Throughput: %.2f MiB/s", sum.Throughput/(1024*1024)))
	}
	reasons := make([]string, 0, len(sum.ByReason))
	for reason := range sum.ByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		lines = append(lines, fmt.Sprintf("  %s: %d", reason, sum.ByReason[reason]))
	}
	pdf.MultiCell(0, 6, strings.Join(lines, "\n"), "", "L", false)
	pdf.Ln(4)
}

func addFingerprintQR(pdf *gofpdf.Fpdf, hash string) {
	png, err := FingerprintQR(hash, 256)
	if err != nil {
		return
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("fingerprint", opts, bytes.NewReader(png))
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Fingerprint")
	pdf.Ln(9)
	pdf.ImageOptions("fingerprint", pdf.GetX(), pdf.GetY(), 40, 40, false, opts, 0, "")
	pdf.Ln(44)
}
