package logging

import "strings"

// shortIDLength keeps console subjects readable; full IDs stay in JSON output.
const shortIDLength = 8

// FormatSubject builds the batch/step subject string used in console output.
func FormatSubject(batchID, step string) string {
	batchID = strings.TrimSpace(batchID)
	step = strings.TrimSpace(step)
	if len(batchID) > shortIDLength {
		batchID = batchID[:shortIDLength]
	}
	switch {
	case batchID != "" && step != "":
		return "batch " + batchID + " · " + step
	case batchID != "":
		return "batch " + batchID
	default:
		return step
	}
}
