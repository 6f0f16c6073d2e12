package archive

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/bookkeeper/internal/compliance"
	"github.com/dvloznov/bookkeeper/internal/domain"
)

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{uri: "gs://books/reports/u1/2025-05.json", wantBucket: "books", wantObject: "reports/u1/2025-05.json"},
		{uri: "gs://books/a", wantBucket: "books", wantObject: "a"},
		{uri: "s3://books/a", wantErr: true},
		{uri: "gs://books", wantErr: true},
		{uri: "gs://books/", wantErr: true},
		{uri: "gs:///object", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGCSURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseGCSURI() = %q, %q; want %q, %q", bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestObjectName(t *testing.T) {
	if got := ObjectName("u1", "2025-05"); got != "reports/u1/2025-05.json" {
		t.Errorf("ObjectName() = %q", got)
	}
}

func TestEncodeDecodeReport(t *testing.T) {
	month := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	doc := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)
	rep := compliance.BuildReport("u1", month, []*domain.Transaction{{
		ID:           "tx1",
		Type:         domain.TypeExpense,
		Amount:       decimal.RequireFromString("1850.50"),
		Currency:     "CZK",
		Description:  "fuel",
		CategoryCode: "fuel",
		DocumentDate: &doc,
	}})

	data, err := EncodeReport(rep)
	if err != nil {
		t.Fatalf("EncodeReport() error = %v", err)
	}
	back, err := DecodeReport(data)
	if err != nil {
		t.Fatalf("DecodeReport() error = %v", err)
	}
	if back.TotalTransactions != 1 || back.Month != rep.Month {
		t.Errorf("decoded = %d/%s", back.TotalTransactions, back.Month)
	}
	if !back.Totals["CZK"].Expense.Equal(decimal.RequireFromString("1850.50")) {
		t.Errorf("expense total = %s", back.Totals["CZK"].Expense)
	}

	if _, err := DecodeReport([]byte("{not json")); err == nil {
		t.Error("DecodeReport() accepted invalid JSON")
	}
}
