package storage

import "testing"

func TestBuildObjectPath(t *testing.T) {
	cases := []struct {
		name    string
		purpose ObjectPurpose
		params  PathParams
		want    string
		wantErr bool
	}{
		{
			name:    "receipt with default file name",
			purpose: PurposeReceipt,
			params:  PathParams{TenantID: "tn_1", OrderID: "ord_123"},
			want:    "receipts/tn_1/ord_123/receipt.json",
		},
		{
			name:    "receipt with custom file name",
			purpose: PurposeReceipt,
			params:  PathParams{TenantID: "tn_1", OrderID: "ord_123", FileName: "invoice-2026-001.pdf"},
			want:    "receipts/tn_1/ord_123/invoice-2026-001.pdf",
		},
		{
			name:    "ledger export",
			purpose: PurposeLedgerExport,
			params:  PathParams{TenantID: "tn_1", OrderID: "ord_123", FileName: "adjustments.csv"},
			want:    "ledgers/tn_1/ord_123/adjustments.csv",
		},
		{
			name:    "ledger export requires file name",
			purpose: PurposeLedgerExport,
			params:  PathParams{TenantID: "tn_1", OrderID: "ord_1"},
			wantErr: true,
		},
		{
			name:    "traversal in tenant",
			purpose: PurposeReceipt,
			params:  PathParams{TenantID: "../bad", OrderID: "ord_1"},
			wantErr: true,
		},
		{
			name:    "slash in order",
			purpose: PurposeReceipt,
			params:  PathParams{TenantID: "tn_1", OrderID: "ord/1"},
			wantErr: true,
		},
		{
			name:    "unknown purpose",
			purpose: ObjectPurpose("thumbnails"),
			params:  PathParams{TenantID: "tn_1", OrderID: "ord_1"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildObjectPath(tc.purpose, tc.params)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("path = %q, want %q", got, tc.want)
			}
		})
	}
}
