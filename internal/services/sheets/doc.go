// Package sheets downloads a spreadsheet as CSV over HTTP. Google Sheets
// edit links are rewritten to their CSV export endpoint; any other URL is
// fetched as-is. Only publicly shared or link-shared sheets are supported.
package sheets
