package unload

import (
	"bufio"
	"io"

	"github.com/ajitpratap0/redtap/pkg/compression"
	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/extract"
)

// RowReader yields the rows of one staged file, then io.EOF.
type RowReader interface {
	Read() (extract.Row, error)
	Close() error
}

// TextReader decodes tab-delimited UNLOAD output written with ESCAPE.
// A backslash makes the next byte literal, so escaped tabs, newlines and
// backslashes stay inside their field. A field that is exactly \N is NULL.
type TextReader struct {
	r      *bufio.Reader
	closer io.Closer
	width  int
	line   int64
}

// NewTextReader decodes r, decompressing it with alg. Close closes the
// decompressor but not r.
func NewTextReader(r io.Reader, alg compression.Algorithm, width int) (*TextReader, error) {
	rc, err := compression.NewReader(alg, r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open export file")
	}
	return &TextReader{
		r:      bufio.NewReaderSize(rc, 64*1024),
		closer: rc,
		width:  width,
	}, nil
}

// Read returns the next row.
func (t *TextReader) Read() (extract.Row, error) {
	var (
		row     = make(extract.Row, 0, t.width)
		field   []byte
		raw     int
		null    bool
		escaped bool
		started bool
	)

	endField := func() {
		if null && raw == 2 {
			row = append(row, nil)
		} else {
			row = append(row, string(field))
		}
		field, raw, null = field[:0], 0, false
	}

loop:
	for {
		b, err := t.r.ReadByte()
		if err == io.EOF {
			if !started {
				return nil, io.EOF
			}
			if escaped {
				return nil, errors.Newf(errors.ErrorTypeData, "export file ends inside an escape on line %d", t.line+1)
			}
			endField()
			break loop
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read export file")
		}
		started = true

		if escaped {
			if b == 'N' && raw == 1 {
				null = true
			}
			field = append(field, b)
			raw++
			escaped = false
			continue
		}

		switch b {
		case '\\':
			escaped = true
			raw++
		case '\t':
			endField()
		case '\n':
			endField()
			break loop
		default:
			field = append(field, b)
			raw++
		}
	}

	t.line++
	if len(row) != t.width {
		return nil, errors.Newf(errors.ErrorTypeData,
			"export line %d has %d fields, expected %d", t.line, len(row), t.width).
			WithDetail("line", t.line)
	}
	return row, nil
}

// Close releases the decompressor.
func (t *TextReader) Close() error {
	return t.closer.Close()
}
