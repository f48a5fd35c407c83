package storage

import (
	"fmt"
	"strings"
)

// ObjectPurpose selects the bucket layout an object belongs to.
type ObjectPurpose string

const (
	PurposeReceipt      ObjectPurpose = "receipt"
	PurposeLedgerExport ObjectPurpose = "ledger-export"
)

// PathParams carry the identifiers an object key is composed from.
type PathParams struct {
	TenantID string
	OrderID  string
	FileName string
}

// BuildObjectPath returns the object key for the purpose. Receipts default
// the file name to receipt.json; ledger exports require an explicit one.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	var prefix, defaultName string
	switch purpose {
	case PurposeReceipt:
		prefix, defaultName = "receipts", "receipt.json"
	case PurposeLedgerExport:
		prefix = "ledgers"
	default:
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}

	name := params.FileName
	if strings.TrimSpace(name) == "" {
		name = defaultName
	}

	segments := make([]string, 0, 4)
	for _, part := range []struct {
		label string
		value string
	}{
		{"tenantID", params.TenantID},
		{"orderID", params.OrderID},
		{"fileName", name},
	} {
		segment, err := objectSegment(part.label, part.value)
		if err != nil {
			return "", err
		}
		segments = append(segments, segment)
	}
	return prefix + "/" + strings.Join(segments, "/"), nil
}

// objectSegment rejects empty, slash-bearing, and traversal-bearing values so
// tenant and order identifiers cannot escape their prefix.
func objectSegment(label, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", label)
	case strings.ContainsAny(value, `/\`):
		return "", fmt.Errorf("storage: %s contains invalid path characters", label)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", label)
	}
	return value, nil
}
