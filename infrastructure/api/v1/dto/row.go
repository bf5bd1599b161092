// Package dto holds request bodies for the v1 API.
package dto

import (
	"encoding/json"
	"fmt"
)

// RowAttributes holds the column values of a row.
type RowAttributes struct {
	Values map[string]any `json:"values"`
}

// RowData is the JSON:API data object of a row.
type RowData struct {
	Type       string        `json:"type"`
	Attributes RowAttributes `json:"attributes"`
}

// RowRequest is the body of a row save.
type RowRequest struct {
	Data RowData `json:"data"`
}

// Row converts the decoded values into a row. Numbers decoded as json.Number
// become int64 when integral and float64 otherwise.
func (r RowRequest) Row() (map[string]any, error) {
	row := make(map[string]any, len(r.Data.Attributes.Values))
	for column, value := range r.Data.Attributes.Values {
		n, ok := value.(json.Number)
		if !ok {
			row[column] = value
			continue
		}
		if i, err := n.Int64(); err == nil {
			row[column] = i
			continue
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number for %s: %w", column, err)
		}
		row[column] = f
	}
	return row, nil
}
