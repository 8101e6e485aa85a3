package models

// Upload is one file received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

// UploadKind is the source family of an upload set.
type UploadKind string

const (
	KindImages      UploadKind = "images"
	KindSpreadsheet UploadKind = "spreadsheet"
	KindDocument    UploadKind = "document"
)
