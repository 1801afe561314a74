package document

import (
	"errors"
	"strings"
)

// ErrUnsupportedFormat is reported when a document's extension is not one the
// editor can open.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// FallbackExtension is used when a document has no recognised extension.
const FallbackExtension = "docx"

// Format describes how the editor should treat a file type.
type Format struct {
	Extension    string
	DocumentType string // word | cell | slide | pdf
	MIMEType     string
	Editable     bool
}

var formats = map[string]Format{
	"docx": {"docx", "word", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", true},
	"doc":  {"doc", "word", "application/msword", true},
	"odt":  {"odt", "word", "application/vnd.oasis.opendocument.text", true},
	"rtf":  {"rtf", "word", "application/rtf", true},
	"txt":  {"txt", "word", "text/plain; charset=utf-8", true},
	"xlsx": {"xlsx", "cell", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", true},
	"xls":  {"xls", "cell", "application/vnd.ms-excel", true},
	"ods":  {"ods", "cell", "application/vnd.oasis.opendocument.spreadsheet", true},
	"csv":  {"csv", "cell", "text/csv; charset=utf-8", true},
	"pptx": {"pptx", "slide", "application/vnd.openxmlformats-officedocument.presentationml.presentation", true},
	"ppt":  {"ppt", "slide", "application/vnd.ms-powerpoint", true},
	"odp":  {"odp", "slide", "application/vnd.oasis.opendocument.presentation", true},
	"pdf":  {"pdf", "pdf", "application/pdf", false},
}

// DetectFormat resolves an extension (with or without a leading dot). Unknown
// or empty extensions return the fallback format together with
// ErrUnsupportedFormat so callers can flag the degradation.
func DetectFormat(ext string) (Format, error) {
	e := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if f, ok := formats[e]; ok {
		return f, nil
	}
	return formats[FallbackExtension], ErrUnsupportedFormat
}

// Format returns the document's format; see DetectFormat.
func (d *Document) Format() (Format, error) {
	return DetectFormat(d.Extension)
}
