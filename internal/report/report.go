// Package report formats scrape results for people: a per-category console
// summary and a printable PDF of the device list.
package report

import (
	"io"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Summary writes one line per category, largest first, ties broken by name.
func Summary(w io.Writer, counts map[string]int) error {
	categories := make([]string, 0, len(counts))
	total := 0
	for c, n := range counts {
		categories = append(categories, c)
		total += n
	}
	sort.Slice(categories, func(i, j int) bool {
		a, b := categories[i], categories[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return a < b
	})
	if _, err := printer.Fprintf(w, "Total devices: %d\n", total); err != nil {
		return err
	}
	for _, c := range categories {
		if _, err := printer.Fprintf(w, "  %s: %d %s\n", c, counts[c], plural(counts[c], "device", "devices")); err != nil {
			return err
		}
	}
	return nil
}

// Bytes renders a byte count with thousands separators and a binary-unit
// approximation for larger sizes, e.g. "1,536 bytes (1.5 KiB)".
func Bytes(n int) string {
	const unit = 1024
	if n < unit {
		return printer.Sprintf("%d %s", n, plural(n, "byte", "bytes"))
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return printer.Sprintf("%d bytes (%.1f %siB)", n, float64(n)/float64(div), string("KMGT"[exp]))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

