package leafforecast

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"gohts/internal/errors"
	"gohts/ports"
)

// FieldMap names the JSON fields of one forecast record. DataPath is a gjson
// path to the record array; empty means the document itself.
type FieldMap struct {
	DataPath  string `json:"data_path" yaml:"data_path"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	ID        string `json:"id" yaml:"id"`
	Mean      string `json:"mean" yaml:"mean"`
	Lower     string `json:"lower" yaml:"lower"`
	Upper     string `json:"upper" yaml:"upper"`
}

// ProphetFields is the ds/unique_id/yhat layout most forecasters emit.
func ProphetFields() FieldMap {
	return FieldMap{
		Timestamp: "ds",
		ID:        "unique_id",
		Mean:      "yhat",
		Lower:     "yhat_lower",
		Upper:     "yhat_upper",
	}
}

// CanonicalFields reads rows already in the engine's prediction schema.
func CanonicalFields() FieldMap {
	return FieldMap{
		Timestamp: "timestamp",
		ID:        "id_pred",
		Mean:      "pred_mean",
		Lower:     "pi_lower_95",
		Upper:     "pi_upper_95",
	}
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// ParseJSON extracts forecast records. Blank field names take the Prophet
// defaults. A record without bounds gets a point interval at its mean.
func ParseJSON(data []byte, fields FieldMap) ([]ports.RawForecast, error) {
	fields = fields.withDefaults()
	if !gjson.ValidBytes(data) {
		return nil, errors.InvalidInput("forecast payload is not valid JSON")
	}

	root := gjson.ParseBytes(data)
	if fields.DataPath != "" {
		root = root.Get(fields.DataPath)
		if !root.Exists() {
			return nil, errors.InvalidInput(fmt.Sprintf("data path '%s' not found in forecast payload", fields.DataPath))
		}
	}

	var records []gjson.Result
	switch {
	case root.IsArray():
		records = root.Array()
	case root.IsObject():
		records = []gjson.Result{root}
	default:
		return nil, errors.InvalidInput("forecast payload is not an array or object")
	}

	out := make([]ports.RawForecast, 0, len(records))
	for k, rec := range records {
		id := rec.Get(fields.ID)
		if !id.Exists() || id.String() == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("record %d: missing %s", k, fields.ID))
		}
		ts, err := parseTime(rec.Get(fields.Timestamp))
		if err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("record %d: %s: %w", k, fields.Timestamp, err))
		}
		mean := rec.Get(fields.Mean)
		if !mean.Exists() {
			return nil, errors.InvalidInput(fmt.Sprintf("record %d: missing %s", k, fields.Mean))
		}
		r := ports.RawForecast{
			DS:        ts,
			UniqueID:  id.String(),
			YHat:      mean.Float(),
			YHatLower: mean.Float(),
			YHatUpper: mean.Float(),
		}
		if lo := rec.Get(fields.Lower); lo.Exists() {
			r.YHatLower = lo.Float()
		}
		if hi := rec.Get(fields.Upper); hi.Exists() {
			r.YHatUpper = hi.Float()
		}
		out = append(out, r)
	}
	return out, nil
}

func (f FieldMap) withDefaults() FieldMap {
	def := ProphetFields()
	if f.Timestamp == "" {
		f.Timestamp = def.Timestamp
	}
	if f.ID == "" {
		f.ID = def.ID
	}
	if f.Mean == "" {
		f.Mean = def.Mean
	}
	if f.Lower == "" {
		f.Lower = def.Lower
	}
	if f.Upper == "" {
		f.Upper = def.Upper
	}
	return f
}

// parseTime accepts the common text layouts or epoch milliseconds.
func parseTime(v gjson.Result) (time.Time, error) {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC(), nil
	case gjson.String:
		s := strings.TrimSpace(v.String())
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	return time.Time{}, fmt.Errorf("missing timestamp")
}
