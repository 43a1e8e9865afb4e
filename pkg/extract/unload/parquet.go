package unload

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/extract"
)

const parquetBatchSize = 4096

// ParquetReader decodes an UNLOAD ... FORMAT AS PARQUET file. Columns are
// matched by position, which follows the SELECT list.
type ParquetReader struct {
	fr     *file.Reader
	rr     pqarrow.RecordReader
	width  int
	record arrow.Record
	row    int
}

// OpenParquet opens a downloaded Parquet file.
func OpenParquet(ctx context.Context, path string, width int) (*ParquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open export file")
	}

	fr, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read parquet footer")
	}

	arrowReader, err := pqarrow.NewFileReader(fr,
		pqarrow.ArrowReadProperties{BatchSize: parquetBatchSize},
		memory.NewGoAllocator())
	if err != nil {
		fr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create arrow reader")
	}

	if n := arrowReader.Manifest.Fields; len(n) != width {
		fr.Close()
		return nil, errors.Newf(errors.ErrorTypeData,
			"parquet file has %d columns, expected %d", len(n), width)
	}

	rr, err := arrowReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		fr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create record reader")
	}

	return &ParquetReader{fr: fr, rr: rr, width: width}, nil
}

// Read returns the next row.
func (p *ParquetReader) Read() (extract.Row, error) {
	for p.record == nil || p.row >= int(p.record.NumRows()) {
		if !p.rr.Next() {
			if err := p.rr.Err(); err != nil && err != io.EOF {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read parquet batch")
			}
			return nil, io.EOF
		}
		p.record = p.rr.Record()
		p.row = 0
	}

	row := make(extract.Row, p.width)
	for c := 0; c < p.width; c++ {
		v, err := arrowValue(p.record.Column(c), p.row)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode parquet value").
				WithDetail("column", p.record.ColumnName(c))
		}
		row[c] = v
	}
	p.row++
	return row, nil
}

// Close releases the file.
func (p *ParquetReader) Close() error {
	p.rr.Release()
	return p.fr.Close()
}

// arrowValue converts a cell into a value schema coercion accepts.
func arrowValue(col arrow.Array, i int) (interface{}, error) {
	if col.IsNull(i) {
		return nil, nil
	}

	switch a := col.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return string(a.Value(i)), nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return a.Value(i).ToString(scale), nil
	case *array.Date32:
		return a.Value(i).ToTime(), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit), nil
	case *array.Time64:
		unit := a.DataType().(*arrow.Time64Type).Unit
		return a.Value(i).ToTime(unit), nil
	default:
		return nil, fmt.Errorf("unsupported parquet column type %s", col.DataType())
	}
}
