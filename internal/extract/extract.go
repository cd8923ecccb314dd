package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"

	"github.com/hyperifyio/devicelist/internal/device"
	"github.com/hyperifyio/devicelist/internal/schema"
)

// ExcludedCategory is the heading of the section listing devices that are
// announced but not shipped. It never contributes records.
const ExcludedCategory = "Announced devices that have not yet been released"

// Class markers the device list uses for table rows and cells.
const (
	RowSelector  = "div.sc-97391185-0"
	CellSelector = "div.sc-ec576641-0"
)

var (
	rowMatcher  = cascadia.MustCompile(RowSelector)
	cellMatcher = cascadia.MustCompile(CellSelector)

	versionPattern = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)
)

// IsVersion reports whether s looks like a CorOS version such as 1.0 or 3.3.0.
func IsVersion(s string) bool {
	return versionPattern.MatchString(s)
}

// FromHTML extracts device records from the device list page using the
// compiled-in schema table.
func FromHTML(input []byte) []device.Device {
	return fromHTML(input, schema.Default())
}

func fromHTML(input []byte, table *schema.Table) []device.Device {
	devices := []device.Device{}
	root, err := html.Parse(bytes.NewReader(input))
	if err != nil || root == nil {
		return devices
	}
	for _, heading := range findAll(root, atom.H2) {
		category := strings.TrimSpace(textOf(heading))
		if category == "" || category == ExcludedCategory {
			continue
		}
		devices = append(devices, parseSection(heading, category, table)...)
	}
	return devices
}

// parseSection turns the table that follows heading into records. A failure
// inside one section only drops that section.
func parseSection(heading *html.Node, category string, table *schema.Table) (out []device.Device) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("category", category).Interface("panic", r).Msg("section skipped")
			out = nil
		}
	}()

	container := containerAfter(heading)
	if container == nil {
		return nil
	}
	rows := goquery.NewDocumentFromNode(container).FindMatcher(rowMatcher)
	if rows.Length() == 0 {
		return nil
	}
	s, ok := table.Lookup(category)
	if !ok {
		log.Debug().Str("category", category).Int("rows", rows.Length()).Msg("no schema for category")
		return nil
	}

	nameIndex := s.NameIndex()
	out = make([]device.Device, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		cells := cellTexts(row)
		if len(cells) <= nameIndex || cells[nameIndex] == "" {
			return
		}
		d := device.Device{Category: category, Name: cells[nameIndex]}
		for _, rule := range fieldRules {
			col, ok := s.Index(rule.field)
			if !ok || col >= len(cells) {
				continue
			}
			if v := cells[col]; rule.keep(v) {
				rule.set(&d, v)
			}
		}
		out = append(out, d)
	})
	return out
}

// containerAfter walks the element siblings following heading and returns the
// first div, stopping at the next h2.
func containerAfter(heading *html.Node) *html.Node {
	if heading.Parent == nil {
		return nil
	}
	siblings := elementChildren(heading.Parent)
	pos := -1
	for i, n := range siblings {
		if n == heading {
			pos = i
			break
		}
	}
	for i := pos + 1; pos >= 0 && i < len(siblings); i++ {
		switch siblings[i].DataAtom {
		case atom.H2:
			return nil
		case atom.Div:
			return siblings[i]
		}
	}
	return nil
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func cellTexts(row *goquery.Selection) []string {
	cells := row.FindMatcher(cellMatcher)
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		out = append(out, clean(c.Text()))
	})
	return out
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var res []*html.Node
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		if cur.Type == html.ElementNode && cur.DataAtom == a {
			res = append(res, cur)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
		}
	}
	dfs(n)
	return res
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(cur.Data)
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return clean(b.String())
}

func clean(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
