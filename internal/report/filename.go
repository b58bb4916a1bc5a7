package report

import "strings"

const baseFileName = "mobile_connection_details"

// FileName returns the report file name for a debtor filter.
func FileName(debtorCode string) string {
	name := baseFileName
	if debtorCode != "" {
		name += "_" + strings.ToLower(debtorCode)
	}
	return name + ".csv"
}
