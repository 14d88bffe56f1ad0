package sheetstore

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL}, testLogger())
}

func TestFetchTable(t *testing.T) {
	var gotQuery map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"action":  r.URL.Query().Get("action"),
			"sheetId": r.URL.Query().Get("sheetId"),
			"rid":     r.URL.Query().Get("rid"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"data": [
				["", "商品名稱", "", "選項名稱", "", "數量"],
				["", "超大容量保溫杯850ml", "", "不鏽鋼藍色", "", 2],
				["", "旅行收納袋六件組", "", "", "", 1.5]
			]
		}`))
	})

	data, err := client.FetchTable(context.Background(), "sheet-1")
	require.NoError(t, err)

	assert.Equal(t, "read", gotQuery["action"])
	assert.Equal(t, "sheet-1", gotQuery["sheetId"])
	assert.NotEmpty(t, gotQuery["rid"], "requests carry a correlation id")

	// Header row comes through untouched; consumers drop it
	require.Len(t, data, 3)
	assert.Equal(t, "商品名稱", data[0][1])
	assert.Equal(t, "超大容量保溫杯850ml", data[1][1])

	// Integral numbers render without a decimal point
	assert.Equal(t, "2", data[1][5])
	assert.Equal(t, "1.5", data[2][5])
}

func TestFetchTableErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "Store reports failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success": false, "error": "internal"}`))
			},
			wantErr: ErrUnavailable,
		},
		{
			name: "Empty data is malformed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success": true, "data": []}`))
			},
			wantErr: ErrMalformed,
		},
		{
			name: "Non-JSON body is malformed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>maintenance</html>`))
			},
			wantErr: ErrMalformed,
		},
		{
			name: "Non-200 status is unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: ErrUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.FetchTable(context.Background(), "sheet-1")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetchTableTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, testLogger())

	start := time.Now()
	_, err := client.FetchTable(context.Background(), "sheet-1")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second, "deadline releases the request promptly")
}

func TestUpdateCell(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "update", q.Get("action"))
		assert.Equal(t, "超大容量保溫杯850ml", q.Get("productName"))
		assert.Equal(t, "不鏽鋼藍色", q.Get("specName"))
		assert.Equal(t, "L", q.Get("column"))
		assert.Equal(t, "A-12", q.Get("value"))
		w.Write([]byte(`{"success": true, "updatedRow": 7}`))
	})

	row, err := client.UpdateCell(context.Background(), "sheet-1", "超大容量保溫杯850ml", "不鏽鋼藍色", "L", "A-12")
	require.NoError(t, err)
	assert.Equal(t, 7, row)
}

func TestClearCells(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "clear", r.URL.Query().Get("action"))
		w.Write([]byte(`{"success": true, "clearedRow": 4}`))
	})

	row, err := client.ClearCells(context.Background(), "sheet-1", "旅行收納袋六件組", "")
	require.NoError(t, err)
	assert.Equal(t, 4, row)
}

func TestBatchUpdate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "batchUpdate", q.Get("action"))
		assert.JSONEq(t, `{"L": "A-12", "M": "done"}`, q.Get("updates"))
		w.Write([]byte(`{"success": true, "updatedRows": [7, 12]}`))
	})

	rows, err := client.BatchUpdate(context.Background(), "sheet-1", "超大容量保溫杯850ml", "不鏽鋼藍色",
		map[string]string{"L": "A-12", "M": "done"})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 12}, rows)
}

func TestWriteErrorsMapRowNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "找不到商品: 超大容量保溫杯850ml"}`))
	})

	_, err := client.UpdateCell(context.Background(), "sheet-1", "超大容量保溫杯850ml", "不鏽鋼藍色", "L", "A-12")
	assert.ErrorIs(t, err, ErrRowNotFound)

	_, err = client.ClearCells(context.Background(), "sheet-1", "超大容量保溫杯850ml", "不鏽鋼藍色")
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestWriteErrorsOtherFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "quota exceeded"}`))
	})

	_, err := client.BatchUpdate(context.Background(), "sheet-1", "超大容量保溫杯850ml", "", map[string]string{"L": "A-12"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrRowNotFound)
}

func TestCellString(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{name: "Nil is empty", input: nil, expected: ""},
		{name: "String passes through", input: "A-12", expected: "A-12"},
		{name: "Integral float drops the point", input: float64(3), expected: "3"},
		{name: "Fractional float keeps the point", input: 2.5, expected: "2.5"},
		{name: "Bool renders as text", input: true, expected: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cellString(tt.input))
		})
	}
}
