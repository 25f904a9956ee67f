package download

import "strings"

// FailureClass buckets the fatal error lines the tools emit. The class
// decides both the escalation path (lookup misses trigger the silent
// secondary search) and the final user-facing message.
type FailureClass int

const (
	// FailureNone means no fatal line was seen.
	FailureNone FailureClass = iota

	// FailureLookupMiss means the resolver could not match the item;
	// worth one immediate search by title.
	FailureLookupMiss

	// FailureContentUnavailable means the item exists but cannot be
	// fetched (region locks, removals, provider errors).
	FailureContentUnavailable

	// FailureBlocked means the platform is refusing automated access.
	FailureBlocked

	// FailureOther covers everything else.
	FailureOther
)

// Fatal substrings emitted on the tools' output streams.
var (
	lookupMissMarkers  = []string{"LookupError", "KeyError"}
	unavailableMarkers = []string{"AudioProviderError", "YT-DLP download error"}
	otherMarkers       = []string{"DownloaderError"}
	blockedMarkers     = []string{"Sign in to confirm you're not a bot", "confirm that you're not a robot"}
)

// ClassifyLine maps an output line to a failure class, FailureNone when
// the line carries no known fatal marker.
func ClassifyLine(line string) FailureClass {
	for _, m := range blockedMarkers {
		if strings.Contains(line, m) {
			return FailureBlocked
		}
	}
	for _, m := range lookupMissMarkers {
		if strings.Contains(line, m) {
			return FailureLookupMiss
		}
	}
	for _, m := range unavailableMarkers {
		if strings.Contains(line, m) {
			return FailureContentUnavailable
		}
	}
	for _, m := range otherMarkers {
		if strings.Contains(line, m) {
			return FailureOther
		}
	}
	return FailureNone
}

// worse keeps the most actionable class seen so far: blocked beats
// unavailable beats other; a lookup miss never overrides a later fatal.
func worse(a, b FailureClass) FailureClass {
	rank := func(c FailureClass) int {
		switch c {
		case FailureBlocked:
			return 4
		case FailureContentUnavailable:
			return 3
		case FailureOther:
			return 2
		case FailureLookupMiss:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
