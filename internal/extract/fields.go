package extract

import (
	"github.com/hyperifyio/devicelist/internal/device"
	"github.com/hyperifyio/devicelist/internal/schema"
)

// fieldRule decides whether a raw cell value is accepted for a field and
// where it goes on the record. The name column is handled separately.
type fieldRule struct {
	field string
	keep  func(string) bool
	set   func(*device.Device, string)
}

var fieldRules = []fieldRule{
	{
		field: schema.FieldBasedOn,
		keep:  func(v string) bool { return !IsVersion(v) },
		set:   func(d *device.Device, v string) { d.BasedOn = v },
	},
	{
		field: schema.FieldAddedInCorOS,
		keep:  IsVersion,
		set:   func(d *device.Device, v string) { d.AddedInCorOS = v },
	},
	{
		field: schema.FieldDeviceCategory,
		keep:  func(v string) bool { return v != "" && !IsVersion(v) },
		set:   func(d *device.Device, v string) { d.DeviceCategory = v },
	},
	{
		field: schema.FieldPreviousName,
		keep:  nonEmpty,
		set:   func(d *device.Device, v string) { d.PreviousName = v },
	},
	{
		field: schema.FieldUpdatedInCorOS,
		keep:  IsVersion,
		set:   func(d *device.Device, v string) { d.UpdatedInCorOS = v },
	},
	{
		field: schema.FieldPluginSource,
		keep:  nonEmpty,
		set:   func(d *device.Device, v string) { d.PluginSource = v },
	},
}

func nonEmpty(v string) bool { return v != "" }
