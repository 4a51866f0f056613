package excel

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	domain "gohts/domain/hierarchy"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/logging"
	"gohts/ports"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	sheet    string
	logger   zerolog.Logger
}

// NewDataReader creates a reader for an .xlsx or .csv file. An empty sheet
// means the workbook's first sheet; CSV files ignore it.
func NewDataReader(filePath, sheet string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{filePath: filePath, fileType: fileType, sheet: sheet, logger: logging.Component("excel")}
}

// ReadData reads the sheet into header-keyed rows
func (r *DataReader) ReadData() (*ExcelData, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.InvalidInput(fmt.Sprintf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath))
	}

	start := time.Now()
	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	default:
		rows, err = r.readExcelRows()
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Str("file", r.filePath).Int("rows", len(rows)).Dur("elapsed", time.Since(start)).Msg("sheet read")

	if len(rows) < 2 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s must have a header row and at least one data row", r.filePath))
	}
	return processRows(rows), nil
}

// readExcelRows returns raw cell values so that dates arrive as serial numbers
func (r *DataReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to open Excel file: %w", err))
	}
	defer f.Close()

	sheet := r.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to read sheet %q: %w", sheet, err))
	}
	return rows, nil
}

func (r *DataReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to open CSV file: %w", err))
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to read CSV file: %w", err))
	}
	return rows, nil
}

// processRows converts raw string rows into ExcelData format
func processRows(rows [][]string) *ExcelData {
	headers := make([]string, len(rows[0]))
	for i, header := range rows[0] {
		headers[i] = strings.TrimSpace(header)
	}

	dataRows := make([]RawRowData, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rowData := make(RawRowData, len(headers))
		empty := true
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
				empty = empty && rowData[headers[j]] == ""
			}
		}
		if !empty {
			dataRows = append(dataRows, rowData)
		}
	}
	return &ExcelData{Headers: headers, Rows: dataRows}
}

// ReadObservations reads raw labelled observations. Each level's labels come
// from its Column; a blank value cell is unknown, not zero.
func ReadObservations(path, sheet string, levels []domain.Level, dateCol, valueCol string) ([]hierarchy.RawObservation, error) {
	data, err := NewDataReader(path, sheet).ReadData()
	if err != nil {
		return nil, err
	}
	required := []string{dateCol, valueCol}
	for _, l := range levels {
		required = append(required, l.Column)
	}
	if err := data.requireColumns(required...); err != nil {
		return nil, err
	}

	out := make([]hierarchy.RawObservation, 0, len(data.Rows))
	for k, row := range data.Rows {
		ts, err := parseTime(row[dateCol])
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("row %d: %s: %w", k+2, dateCol, err))
		}
		value, err := parseValue(row[valueCol])
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("row %d: %s: %w", k+2, valueCol, err))
		}
		labels := make(map[string]string, len(levels))
		for _, l := range levels {
			labels[l.Column] = row[l.Column]
		}
		out = append(out, hierarchy.RawObservation{Timestamp: ts, Labels: labels, Value: value})
	}
	return out, nil
}

// ReadForecasts reads forecast rows with either Prophet (ds, unique_id, yhat…)
// or canonical (timestamp, id_pred, pred_mean…) headers. Missing bound
// columns give point intervals.
func ReadForecasts(path, sheet string) ([]ports.RawForecast, error) {
	data, err := NewDataReader(path, sheet).ReadData()
	if err != nil {
		return nil, err
	}
	cols := prophetColumns
	if !data.hasColumn(cols.ID) {
		cols = canonicalColumns
	}
	if err := data.requireColumns(cols.Timestamp, cols.ID, cols.Mean); err != nil {
		return nil, err
	}

	out := make([]ports.RawForecast, 0, len(data.Rows))
	for k, row := range data.Rows {
		ts, err := parseTime(row[cols.Timestamp])
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("row %d: %w", k+2, err))
		}
		mean, err := parseValue(row[cols.Mean])
		if err != nil || math.IsNaN(mean) {
			return nil, errors.InvalidInput(fmt.Sprintf("row %d: %s must be a number", k+2, cols.Mean))
		}
		rec := ports.RawForecast{DS: ts, UniqueID: row[cols.ID], YHat: mean, YHatLower: mean, YHatUpper: mean}
		if v, err := parseValue(row[cols.Lower]); err == nil && !math.IsNaN(v) {
			rec.YHatLower = v
		}
		if v, err := parseValue(row[cols.Upper]); err == nil && !math.IsNaN(v) {
			rec.YHatUpper = v
		}
		out = append(out, rec)
	}
	return out, nil
}

func (d *ExcelData) hasColumn(name string) bool {
	for _, h := range d.Headers {
		if h == name {
			return true
		}
	}
	return false
}

func (d *ExcelData) requireColumns(names ...string) error {
	var missing []string
	for _, n := range names {
		if !d.hasColumn(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return errors.ConfigInvalid(fmt.Sprintf("missing columns: %s", strings.Join(missing, ", ")))
	}
	return nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02", "01/02/2006"}

// parseTime accepts text dates or Excel serial dates
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// parseValue maps blanks and NA markers to NaN
func parseValue(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "n/a", "nan", "null":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
