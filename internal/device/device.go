package device

import (
	"sort"
	"strings"
)

// Device is one entry of the device list. BasedOn and AddedInCorOS are always
// serialized, the remaining attributes only when the category carries them.
type Device struct {
	Category       string `json:"category"`
	Name           string `json:"name"`
	BasedOn        string `json:"basedOn"`
	AddedInCorOS   string `json:"addedInCorOS"`
	DeviceCategory string `json:"deviceCategory,omitempty"`
	PreviousName   string `json:"previousName,omitempty"`
	UpdatedInCorOS string `json:"updatedInCorOS,omitempty"`
	PluginSource   string `json:"pluginSource,omitempty"`
}

// AllCategories is the category filter value that matches every device.
const AllCategories = "all"

// Categories returns the sorted set of distinct categories.
func Categories(devices []Device) []string {
	seen := make(map[string]struct{}, 32)
	out := make([]string, 0, 32)
	for _, d := range devices {
		if _, ok := seen[d.Category]; ok {
			continue
		}
		seen[d.Category] = struct{}{}
		out = append(out, d.Category)
	}
	sort.Strings(out)
	return out
}

// CountByCategory returns the number of devices per category.
func CountByCategory(devices []Device) map[string]int {
	counts := make(map[string]int)
	for _, d := range devices {
		counts[d.Category]++
	}
	return counts
}

// Filter keeps devices whose name, based-on, device category or previous
// name contains keyword (case-insensitive) and whose category equals
// category. An empty keyword matches everything, as does an empty category or
// AllCategories.
func Filter(devices []Device, keyword string, category string) []Device {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		if category != "" && category != AllCategories && d.Category != category {
			continue
		}
		if kw != "" && !d.matches(kw) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (d Device) matches(lowerKeyword string) bool {
	for _, field := range []string{d.Name, d.BasedOn, d.DeviceCategory, d.PreviousName} {
		if field != "" && strings.Contains(strings.ToLower(field), lowerKeyword) {
			return true
		}
	}
	return false
}
