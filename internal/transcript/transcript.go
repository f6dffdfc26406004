// Package transcript merges recognition events into a stable transcript.
package transcript

import "strings"

// MergeInterim returns the new pending fragment. Interim results replace each
// other; the finalized transcript is never touched.
func MergeInterim(_ string, fragment string) string {
	return fragment
}

// MergeFinal appends a finalized utterance to the transcript. An empty final
// leaves the transcript unchanged.
func MergeFinal(current, final string) string {
	final = strings.TrimSpace(final)
	if final == "" {
		return current
	}
	if current == "" {
		return final
	}
	return current + " " + final
}

// WordCount returns the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
