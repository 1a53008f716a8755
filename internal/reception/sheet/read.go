package sheet

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readRows turns the payload into a cell grid based on the file extension.
func readRows(name string, data []byte) ([][]string, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm", ".xltx":
		return readWorkbook(name, data)
	case ".csv", ".txt":
		return readDelimited(name, data)
	default:
		return nil, &FileFormatError{Name: name, Reason: "unsupported file extension " + quoteExt(ext)}
	}
}

func readWorkbook(name string, data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &FileFormatError{Name: name, Reason: "unreadable workbook", Err: err}
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, &FileFormatError{Name: name, Reason: "workbook has no sheet"}
	}
	// Raw values keep long numeric codes and date serials away from display formats.
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &FileFormatError{Name: name, Reason: "unreadable sheet " + sheet, Err: err}
	}
	return rows, nil
}

func readDelimited(name string, data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	var src io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		src = transform.NewReader(src, charmap.Windows1252.NewDecoder())
	}
	reader := csv.NewReader(src)
	reader.Comma = sniffDelimiter(data)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &FileFormatError{Name: name, Reason: "malformed delimited text", Err: err}
	}
	return rows, nil
}

// sniffDelimiter picks the most frequent separator on the first line.
func sniffDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	best, bestCount := ',', 0
	for _, candidate := range []rune{';', ',', '\t'} {
		if n := bytes.Count(first, []byte(string(candidate))); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}

func quoteExt(ext string) string {
	if ext == "" {
		return "(none)"
	}
	return ext
}
