package extract

import (
	"github.com/hyperifyio/devicelist/internal/device"
	"github.com/hyperifyio/devicelist/internal/schema"
)

// Extractor converts a device list page into device records.
// Implementations must be deterministic and must not fail on malformed input;
// missing structure yields fewer records.
type Extractor interface {
	Extract(input []byte) []device.Device
}

// SchemaExtractor locates category headings and reads each category's rows
// using the column layout in Schemas. A nil Schemas uses schema.Default.
type SchemaExtractor struct {
	Schemas *schema.Table
}

func (e SchemaExtractor) Extract(input []byte) []device.Device {
	t := e.Schemas
	if t == nil {
		t = schema.Default()
	}
	return fromHTML(input, t)
}
