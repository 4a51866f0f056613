package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/logging"
)

// OutputSheet is the sheet name WriteOutput uses for workbooks.
const OutputSheet = "reconciled"

const timestampLayout = "2006-01-02 15:04:05"

// WriteOutput saves reconciled rows as .xlsx or, for a .csv path, as CSV.
func WriteOutput(path string, rows []forecast.OutputRow) error {
	var err error
	if strings.ToLower(filepath.Ext(path)) == ".csv" {
		err = writeCSV(path, rows)
	} else {
		err = writeWorkbook(path, rows)
	}
	if err != nil {
		return err
	}
	logging.Component("excel").Info().Str("file", path).Int("rows", len(rows)).Msg("output written")
	return nil
}

func writeWorkbook(path string, rows []forecast.OutputRow) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), OutputSheet); err != nil {
		return errors.Wrap(err, "name output sheet")
	}

	sw, err := f.NewStreamWriter(OutputSheet)
	if err != nil {
		return errors.Wrap(err, "open stream writer")
	}
	header := make([]interface{}, len(outputHeader))
	for i, h := range outputHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return errors.Wrap(err, "write header")
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []interface{}{r.Timestamp.UTC().Format(timestampLayout), r.IDPred, r.PredMean, r.Sigma, r.PILower95, r.PIUpper95}
		if err := sw.SetRow(cell, values); err != nil {
			return errors.Wrapf(err, "write row %d", i+2)
		}
	}
	if err := sw.Flush(); err != nil {
		return errors.Wrap(err, "flush output sheet")
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

func writeCSV(path string, rows []forecast.OutputRow) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	records := make([][]string, 0, len(rows)+1)
	records = append(records, outputHeader)
	for _, r := range rows {
		records = append(records, []string{
			r.Timestamp.UTC().Format(timestampLayout),
			r.IDPred,
			formatNumber(r.PredMean),
			formatNumber(r.Sigma),
			formatNumber(r.PILower95),
			formatNumber(r.PIUpper95),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadOutput reads back a sheet written by WriteOutput.
func ReadOutput(path string) ([]forecast.OutputRow, error) {
	data, err := NewDataReader(path, OutputSheet).ReadData()
	if err != nil {
		return nil, err
	}
	if err := data.requireColumns(outputHeader...); err != nil {
		return nil, err
	}
	out := make([]forecast.OutputRow, 0, len(data.Rows))
	for k, row := range data.Rows {
		ts, err := parseTime(row["timestamp"])
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("row %d: %w", k+2, err))
		}
		var nums [4]float64
		for i, col := range outputHeader[2:] {
			if nums[i], err = strconv.ParseFloat(row[col], 64); err != nil {
				return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("row %d: %s: %w", k+2, col, err))
			}
		}
		out = append(out, forecast.OutputRow{
			Timestamp: ts, IDPred: row["id_pred"],
			PredMean: nums[0], Sigma: nums[1], PILower95: nums[2], PIUpper95: nums[3],
		})
	}
	return out, nil
}
