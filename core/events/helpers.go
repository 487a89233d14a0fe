package events

import (
	"strings"

	"ledgerkernel/core/resource"
)

func formatAmount(d resource.Decimal) string {
	return d.String()
}

func formatIDs(ids resource.IDSet) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

func setIfPresent(attrs map[string]string, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}
