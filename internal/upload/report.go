package upload

import "strings"

// Failure is one attachment that did not make it through the pipeline
type Failure struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

// FormatFailures renders failures for the error surface. A single failure is
// shown as its message with the hint as body; several are listed per item.
func FormatFailures(failures []Failure) (title, message string) {
	switch len(failures) {
	case 0:
		return "", ""
	case 1:
		return failures[0].Message, failures[0].Hint
	}

	entries := make([]string, 0, len(failures))
	for _, f := range failures {
		entry := f.Name + ":\n" + f.Message
		if f.Hint != "" {
			entry += "\n" + f.Hint
		}
		entries = append(entries, entry)
	}
	return "Upload Errors", strings.Join(entries, "\n\n")
}
