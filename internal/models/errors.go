package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUndecodable is returned when bytes cannot be decoded as an image or document.
	ErrUndecodable = errors.New("undecodable input")

	// ErrFetch is returned when a remote link cannot be resolved to content.
	ErrFetch = errors.New("fetch failed")

	// ErrInvalidOptions is returned for out-of-range processing options.
	ErrInvalidOptions = errors.New("invalid processing options")

	// ErrMixedUpload is returned when one request mixes spreadsheets, documents and images.
	ErrMixedUpload = errors.New("you should work with one type of file: either a spreadsheet, a PDF or images")

	// ErrUnsupportedType is returned for uploads whose extension has no source.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrEmptyOutput is returned when a stage produced no bytes.
	ErrEmptyOutput = errors.New("empty output")

	// ErrSegmenter is returned when the background segmentation service is unreachable or fails.
	ErrSegmenter = errors.New("segmentation service failed")
)

// SchemaError reports a spreadsheet sheet missing required columns.
type SchemaError struct {
	File    string
	Sheet   string
	Missing []string
}

func (e *SchemaError) Error() string {
	where := e.File
	if e.Sheet != "" {
		where = fmt.Sprintf("%s[%s]", e.File, e.Sheet)
	}
	return fmt.Sprintf("%s: must contain %s column(s)", where, strings.Join(e.Missing, " and "))
}

// IsItemError reports whether err only affects a single item and the batch may continue.
func IsItemError(err error) bool {
	return errors.Is(err, ErrUndecodable) ||
		errors.Is(err, ErrFetch) ||
		errors.Is(err, ErrEmptyOutput) ||
		errors.Is(err, ErrSegmenter)
}
