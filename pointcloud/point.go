package pointcloud

import (
	"image/color"
)

// Data describes data associated with a single point within a PointCloud.
type Data interface {
	// HasColor returns whether or not this point is colored.
	HasColor() bool

	// RGB255 returns, if colored, the RGB components of the color.
	RGB255() (uint8, uint8, uint8)

	// Color returns the native color of the point.
	Color() color.NRGBA

	// HasValue returns whether or not this point has some user data value
	// associated with it.
	HasValue() bool

	// Value returns the user data set value, if it exists.
	Value() int
}

type basicData struct {
	hasColor bool
	c        color.NRGBA

	hasValue bool
	value    int
}

// NewBasicData returns data with neither color nor value.
func NewBasicData() Data {
	return &basicData{}
}

// NewColoredData returns data holding a color.
func NewColoredData(c color.NRGBA) Data {
	return &basicData{c: c, hasColor: true}
}

// NewValueData returns data holding a user value.
func NewValueData(v int) Data {
	return &basicData{value: v, hasValue: true}
}

// NewColoredValueData returns data holding both a color and a user value.
func NewColoredValueData(c color.NRGBA, v int) Data {
	return &basicData{c: c, hasColor: true, value: v, hasValue: true}
}

func (bp *basicData) HasColor() bool {
	return bp.hasColor
}

func (bp *basicData) RGB255() (uint8, uint8, uint8) {
	return bp.c.R, bp.c.G, bp.c.B
}

func (bp *basicData) Color() color.NRGBA {
	return bp.c
}

func (bp *basicData) HasValue() bool {
	return bp.hasValue
}

func (bp *basicData) Value() int {
	return bp.value
}
