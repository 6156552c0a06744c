package parse

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"tripdemand.dev/trips/storage"
)

var (
	ErrHTML  = errors.New("content looks like an HTML page")
	ErrEmpty = errors.New("no header row")
)

// Parses a delimited trip dataset into writer. The header and every
// record are written as raw cells; records shorter than the header are
// padded with empty cells, longer ones truncated.
func ParseTable(writer storage.SnapshotWriter, buf []byte) (*storage.SnapshotMetadata, error) {
	// The BOM reader strips unicode BOMs if present.
	text, err := io.ReadAll(bom.NewReader(bytes.NewReader(buf)))
	if err != nil {
		return nil, errors.Wrap(err, "decoding")
	}

	// The downloader checks content type, but a host can still
	// serve an HTML page as an attachment.
	if LooksLikeHTML(text) {
		return nil, ErrHTML
	}

	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes.
	reader := gocsv.LazyCSVReader(bytes.NewReader(text))
	if r, ok := reader.(*csv.Reader); ok {
		r.FieldsPerRecord = -1
	}

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	err = writer.WriteHeader(header)
	if err != nil {
		return nil, errors.Wrap(err, "writing header")
	}

	err = writer.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "beginning records")
	}

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading record (row %d)", rows+2)
		}

		err = writer.WriteRecord(fitRecord(record, len(header)))
		if err != nil {
			return nil, errors.Wrapf(err, "writing record (row %d)", rows+2)
		}
		rows++
	}

	err = writer.End()
	if err != nil {
		return nil, errors.Wrap(err, "ending records")
	}

	return &storage.SnapshotMetadata{
		Columns: len(header),
		Rows:    rows,
	}, nil
}

func fitRecord(record []string, width int) []string {
	if len(record) == width {
		return record
	}
	fitted := make([]string, width)
	copy(fitted, record)
	return fitted
}

var htmlPrefixes = [][]byte{
	[]byte("<!doctype html"),
	[]byte("<html"),
	[]byte("<head"),
	[]byte("<body"),
}

// LooksLikeHTML reports whether text starts like an HTML document.
// Leading comments are skipped; an unterminated one counts as HTML.
func LooksLikeHTML(text []byte) bool {
	head := bytes.TrimSpace(text)
	for bytes.HasPrefix(head, []byte("<!--")) {
		end := bytes.Index(head, []byte("-->"))
		if end < 0 {
			return true
		}
		head = bytes.TrimSpace(head[end+len("-->"):])
	}

	if len(head) > 64 {
		head = head[:64]
	}
	head = bytes.ToLower(head)
	for _, prefix := range htmlPrefixes {
		if !bytes.HasPrefix(head, prefix) {
			continue
		}
		// "<header>" is not "<head>".
		rest := head[len(prefix):]
		if len(rest) == 0 || bytes.IndexByte([]byte(" \t\r\n/>"), rest[0]) >= 0 {
			return true
		}
	}
	return false
}
