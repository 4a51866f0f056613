package excel

// RawRowData represents a row of raw spreadsheet data as string key-value pairs
type RawRowData map[string]string

// ExcelData represents the complete sheet
type ExcelData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// ForecastColumns names the columns of a forecast sheet
type ForecastColumns struct {
	Timestamp string
	ID        string
	Mean      string
	Lower     string
	Upper     string
}

var (
	prophetColumns   = ForecastColumns{Timestamp: "ds", ID: "unique_id", Mean: "yhat", Lower: "yhat_lower", Upper: "yhat_upper"}
	canonicalColumns = ForecastColumns{Timestamp: "timestamp", ID: "id_pred", Mean: "pred_mean", Lower: "pi_lower_95", Upper: "pi_upper_95"}
)

// outputHeader is the column order of a written output sheet
var outputHeader = []string{"timestamp", "id_pred", "pred_mean", "sigma", "pi_lower_95", "pi_upper_95"}
