package models

import (
	"fmt"
	"strings"
)

// Asset is an encoded image held in memory together with its logical name.
type Asset struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}

// SourceKind tells the resolver how to obtain the bytes of a BatchItem.
type SourceKind string

const (
	SourceInline SourceKind = "inline"
	SourceLink   SourceKind = "link"
	SourcePage   SourceKind = "page"
)

// BatchItem is one unit of input. Data is set for inline and page items,
// Link for link items.
type BatchItem struct {
	Name string     `json:"name"`
	Kind SourceKind `json:"kind"`
	Data []byte     `json:"-"`
	Link string     `json:"link,omitempty"`
	// Page is the 1-based page index for SourcePage items.
	Page int `json:"page,omitempty"`
}

func InlineItem(name string, data []byte) BatchItem {
	return BatchItem{Name: name, Kind: SourceInline, Data: data}
}

func LinkItem(name, link string) BatchItem {
	return BatchItem{Name: name, Kind: SourceLink, Link: link}
}

func PageItem(name string, page int, data []byte) BatchItem {
	return BatchItem{Name: name, Kind: SourcePage, Page: page, Data: data}
}

// OverflowMode selects how an auto-scaled foreground larger than the canvas is corrected.
type OverflowMode string

const (
	// OverflowLegacy multiplies both dimensions by ScalingAdjustment/100.
	OverflowLegacy OverflowMode = "legacy"
	// OverflowClamp caps the scale factor so the foreground fits the canvas.
	OverflowClamp OverflowMode = "clamp"
)

// Options is captured once per batch and shared read-only by every item.
type Options struct {
	RemoveBackground  bool         `json:"removeBackground"`
	AddBackground     bool         `json:"addBackground"`
	ResizeForeground  bool         `json:"resizeForeground"`
	ScalingAdjustment float64      `json:"scalingAdjustment"`
	OverflowMode      OverflowMode `json:"overflowMode,omitempty"`
	Background        *Asset       `json:"-"`
}

// DefaultScalingAdjustment leaves an overflowing foreground untouched.
const DefaultScalingAdjustment = 100

// DefaultOptions returns options with every stage off.
func DefaultOptions() Options {
	return Options{
		ScalingAdjustment: DefaultScalingAdjustment,
		OverflowMode:      OverflowLegacy,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.ScalingAdjustment < 0 || o.ScalingAdjustment > 100 {
		return fmt.Errorf("%w: scaling adjustment %v outside [0,100]", ErrInvalidOptions, o.ScalingAdjustment)
	}
	switch o.OverflowMode {
	case "", OverflowLegacy, OverflowClamp:
	default:
		return fmt.Errorf("%w: unknown overflow mode %q", ErrInvalidOptions, o.OverflowMode)
	}
	return nil
}

// Compositing reports whether the compositing stage will run.
// A requested background without an asset silently disables it.
func (o Options) Compositing() bool {
	return o.AddBackground && o.Background != nil && len(o.Background.Data) > 0
}

// Output is one processed image ready for preview or archiving.
type Output struct {
	Name   string `json:"name"`
	Ext    string `json:"ext"`
	Data   []byte `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// Applied foreground size, set only when the compositor ran.
	ForegroundWidth  int `json:"foregroundWidth,omitempty"`
	ForegroundHeight int `json:"foregroundHeight,omitempty"`
}

// FileName is the archive entry key and download filename.
func (o Output) FileName() string {
	return o.Name + "." + o.Ext
}

// DownloadName is the single-image download filename: the name with its last
// extension replaced by Ext.
func (o Output) DownloadName() string {
	stem := o.Name
	if i := strings.LastIndex(stem, "."); i >= 0 {
		stem = stem[:i]
	}
	return stem + "." + o.Ext
}

// MIMEType is derived from the extension.
func (o Output) MIMEType() string {
	return "image/" + o.Ext
}

// SkippedItem records an item dropped from a batch and why.
type SkippedItem struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}
