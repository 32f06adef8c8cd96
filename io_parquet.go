package windlass

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"
)

// ParquetReadOptions configures Parquet reading behavior
type ParquetReadOptions struct {
	Columns []string // Only read these columns (nil = all)
	MaxRows int      // Max rows to read (0 = unlimited)
}

// ReadParquet reads columns of a Parquet file into Arrow arrays, preserving
// nulls, so the file can feed a GroupBy directly. Returns the columns and
// their names in schema order (or in the requested order when
// opts.Columns is set). The caller releases the returned columns.
func ReadParquet(path string, mem memory.Allocator, opts ...ParquetReadOptions) ([]arrow.Array, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return ReadParquetFromReader(f, stat.Size(), mem, opts...)
}

// ReadParquetFromReader reads Parquet data from an io.ReaderAt into Arrow
// arrays.
func ReadParquetFromReader(r io.ReaderAt, size int64, mem memory.Allocator, opts ...ParquetReadOptions) ([]arrow.Array, []string, error) {
	opt := ParquetReadOptions{}
	if len(opts) > 0 {
		opt = opts[0]
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	schema := pf.Schema()

	var colNames []string
	if len(opt.Columns) > 0 {
		colNames = opt.Columns
	} else {
		fields := schema.Fields()
		colNames = make([]string, len(fields))
		for i, f := range fields {
			colNames[i] = f.Name()
		}
	}

	// Map each requested name to its leaf column index.
	colIndexMap := make(map[string]int)
	for i, col := range schema.Columns() {
		if len(col) > 0 {
			colIndexMap[col[0]] = i
		}
	}

	colIndices := make([]int, len(colNames))
	colTypes := make([]arrow.DataType, len(colNames))
	for i, name := range colNames {
		idx, ok := colIndexMap[name]
		if !ok {
			return nil, nil, fmt.Errorf("column '%s' not found in parquet file", name)
		}
		colIndices[i] = idx
		dt, err := parquetLeafType(schema, name)
		if err != nil {
			return nil, nil, err
		}
		colTypes[i] = dt
	}

	rowGroups := pf.RowGroups()

	// Row groups are independent: read each into its own arrays, then
	// concatenate, when the input is big enough to justify the fan-out.
	var columns []arrow.Array
	if globalConfig.shouldParallelize(int(pf.NumRows())) && len(rowGroups) > 1 {
		columns, err = readRowGroupsParallel(rowGroups, colIndices, colTypes, mem)
	} else {
		columns, err = readRowGroups(rowGroups, colIndices, colTypes, mem)
	}
	if err != nil {
		return nil, nil, err
	}

	if opt.MaxRows > 0 && len(columns) > 0 && columns[0].Len() > opt.MaxRows {
		for i, col := range columns {
			columns[i] = array.NewSlice(col, 0, int64(opt.MaxRows))
			col.Release()
		}
	}
	return columns, colNames, nil
}

// readRowGroups reads the given row groups sequentially into one array per
// requested column.
func readRowGroups(rowGroups []parquet.RowGroup, colIndices []int, colTypes []arrow.DataType, mem memory.Allocator) ([]arrow.Array, error) {
	builders := make([]array.Builder, len(colIndices))
	for i, dt := range colTypes {
		builders[i] = array.NewBuilder(mem, dt)
		defer builders[i].Release()
	}

	rowBuf := make([]parquet.Row, 1024)
	for _, rg := range rowGroups {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(rowBuf)
			if err != nil && err != io.EOF {
				rows.Close()
				return nil, fmt.Errorf("failed to read rows: %w", err)
			}
			if n == 0 {
				break
			}
			for _, row := range rowBuf[:n] {
				for i, colIdx := range colIndices {
					if colIdx < len(row) {
						appendParquetValue(builders[i], row[colIdx])
					} else {
						builders[i].AppendNull()
					}
				}
			}
		}
		rows.Close()
	}

	columns := make([]arrow.Array, len(builders))
	for i, b := range builders {
		columns[i] = b.NewArray()
	}
	return columns, nil
}

// readRowGroupsParallel reads each row group on its own goroutine and
// concatenates the per-group arrays in row-group order.
func readRowGroupsParallel(rowGroups []parquet.RowGroup, colIndices []int, colTypes []arrow.DataType, mem memory.Allocator) ([]arrow.Array, error) {
	numRGs := len(rowGroups)
	rgColumns := make([][]arrow.Array, numRGs)
	rgErrors := make([]error, numRGs)

	var wg sync.WaitGroup
	for rgIdx := range rowGroups {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			cols, err := readRowGroups(rowGroups[idx:idx+1], colIndices, colTypes, mem)
			if err != nil {
				rgErrors[idx] = err
				return
			}
			rgColumns[idx] = cols
		}(rgIdx)
	}
	wg.Wait()

	releaseAll := func() {
		for _, cols := range rgColumns {
			for _, c := range cols {
				c.Release()
			}
		}
	}
	for i, err := range rgErrors {
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("row group %d: %w", i, err)
		}
	}

	columns := make([]arrow.Array, len(colIndices))
	for i := range colIndices {
		chunks := make([]arrow.Array, numRGs)
		for rg := range rgColumns {
			chunks[rg] = rgColumns[rg][i]
		}
		merged, err := array.Concatenate(chunks, mem)
		if err != nil {
			for _, prev := range columns[:i] {
				prev.Release()
			}
			releaseAll()
			return nil, fmt.Errorf("failed to concatenate column %d: %w", i, err)
		}
		columns[i] = merged
	}
	releaseAll()
	return columns, nil
}

// parquetLeafType maps a Parquet leaf column to the Arrow type the engine
// aggregates over.
func parquetLeafType(schema *parquet.Schema, name string) (arrow.DataType, error) {
	for _, col := range schema.Fields() {
		if col.Name() != name {
			continue
		}
		t := col.Type()
		if t == nil {
			return arrow.BinaryTypes.String, nil
		}
		switch t.Kind() {
		case parquet.Int32:
			return arrow.PrimitiveTypes.Int32, nil
		case parquet.Int64:
			return arrow.PrimitiveTypes.Int64, nil
		case parquet.Float, parquet.Double:
			return arrow.PrimitiveTypes.Float64, nil
		case parquet.ByteArray, parquet.FixedLenByteArray:
			return arrow.BinaryTypes.String, nil
		default:
			return nil, fmt.Errorf("column '%s' has unsupported parquet type %s", name, t)
		}
	}
	return nil, fmt.Errorf("column '%s' not found in parquet schema", name)
}

// appendParquetValue appends one Parquet value to the matching Arrow builder,
// keeping nulls null.
func appendParquetValue(b array.Builder, val parquet.Value) {
	if val.IsNull() {
		b.AppendNull()
		return
	}
	switch builder := b.(type) {
	case *array.Int32Builder:
		builder.Append(val.Int32())
	case *array.Int64Builder:
		builder.Append(val.Int64())
	case *array.Float64Builder:
		if val.Kind() == parquet.Float {
			builder.Append(float64(val.Float()))
		} else {
			builder.Append(val.Double())
		}
	case *array.StringBuilder:
		builder.Append(string(val.ByteArray()))
	default:
		b.AppendNull()
	}
}
