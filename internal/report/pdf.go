package report

import (
	"errors"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/hyperifyio/devicelist/internal/device"
)

var pdfColumns = []struct {
	title string
	width float64
	value func(device.Device) string
}{
	{"Name", 55, func(d device.Device) string { return d.Name }},
	{"Based on", 65, func(d device.Device) string { return d.BasedOn }},
	{"Added", 20, func(d device.Device) string { return d.AddedInCorOS }},
	{"Notes", 50, notes},
}

// notes folds the optional fields into one column.
func notes(d device.Device) string {
	var parts []string
	if d.DeviceCategory != "" {
		parts = append(parts, d.DeviceCategory)
	}
	if d.PreviousName != "" {
		parts = append(parts, "formerly "+d.PreviousName)
	}
	if d.UpdatedInCorOS != "" {
		parts = append(parts, "updated "+d.UpdatedInCorOS)
	}
	if d.PluginSource != "" {
		parts = append(parts, d.PluginSource)
	}
	return strings.Join(parts, "; ")
}

// WritePDF renders devices as one table per category, categories in the
// order they first appear.
func WritePDF(devices []device.Device, title, outPath string) error {
	if len(devices) == 0 {
		return errors.New("no devices to render")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(title, true)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, printer.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, printer.Sprintf("%d devices", len(devices)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	order, groups := groupByCategory(devices)
	for _, category := range order {
		rows := groups[category]
		// Keep the heading with at least a couple of rows.
		if pdf.GetY() > 250 {
			pdf.AddPage()
		}
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, tr(printer.Sprintf("%s (%d)", category, len(rows))), "", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, col := range pdfColumns {
			pdf.CellFormat(col.width, 6, col.title, "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Helvetica", "", 8)
		for _, d := range rows {
			for _, col := range pdfColumns {
				pdf.CellFormat(col.width, 5, tr(fit(pdf, col.value(d), col.width-2)), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(4)
	}
	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.OutputFileAndClose(outPath)
}

func groupByCategory(devices []device.Device) ([]string, map[string][]device.Device) {
	var order []string
	groups := make(map[string][]device.Device)
	for _, d := range devices {
		if _, ok := groups[d.Category]; !ok {
			order = append(order, d.Category)
		}
		groups[d.Category] = append(groups[d.Category], d)
	}
	return order, groups
}

// fit truncates s with an ellipsis so it renders within width.
func fit(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && pdf.GetStringWidth(string(r)+"...") > width {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}
