package download

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tunegrab/tunegrab/internal/platform"
	"github.com/tunegrab/tunegrab/internal/progress"
)

// Labels the parsers treat as placeholders rather than real track names.
var placeholderLabels = []string{"Initializing...", "Extracting track info...", "Searching on YouTube..."}

var (
	foundPattern       = regexp.MustCompile(`Found (\d+) songs? in (.+?) \((?:Playlist|Album|Artist)\)`)
	downloadingPattern = regexp.MustCompile(`Downloading (\d+) of (\d+): (.+)`)
	downloadedPattern  = regexp.MustCompile(`Downloaded "(.*?)":`)
	noResultsPattern   = regexp.MustCompile(`No results found for song: (.+)`)

	itemPattern        = regexp.MustCompile(`Downloading item (\d+) of (\d+)`)
	percentPattern     = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)
	destinationPattern = regexp.MustCompile(`Destination: (.+)`)
)

// ParserHooks are raised by stream parsers for events that need action
// beyond a progress mutation.
type ParserHooks struct {
	// OnCollection fires once per job when the tool announces how many
	// items the collection holds. Duplicate banners are swallowed.
	OnCollection func(name string, total int)

	// OnLookupMiss fires at most once per job with the synthesized
	// search phrase for the silent secondary strategy.
	OnLookupMiss func(searchTerm string)
}

// SpotdlParser folds spotdl's status stream into the user's progress
// record and classifies fatal lines.
type SpotdlParser struct {
	tracker     *progress.Tracker
	userID      int64
	hooks       ParserHooks
	knownTitle  string
	originalURL string

	missFired bool
	failure   FailureClass
}

// NewSpotdlParser creates a parser for one job's primary run. knownTitle
// is the pre-extracted "Artist - Title" phrase, empty when unavailable.
func NewSpotdlParser(tracker *progress.Tracker, userID int64, knownTitle, originalURL string, hooks ParserHooks) *SpotdlParser {
	return &SpotdlParser{
		tracker:     tracker,
		userID:      userID,
		hooks:       hooks,
		knownTitle:  knownTitle,
		originalURL: originalURL,
	}
}

// Failure returns the worst failure class seen on the stream.
func (p *SpotdlParser) Failure() FailureClass {
	return p.failure
}

// HandleLine consumes one line of tool output.
func (p *SpotdlParser) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if m := foundPattern.FindStringSubmatch(line); m != nil {
		total, _ := strconv.Atoi(m[1])
		name := platform.ToASCII(m[2])
		if p.tracker.SetCollection(p.userID, name, total) && p.hooks.OnCollection != nil {
			p.hooks.OnCollection(name, total)
		}
		return
	}

	if m := downloadingPattern.FindStringSubmatch(line); m != nil {
		index, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		p.tracker.SetPosition(p.userID, index, total, m[3])
		return
	}

	if m := downloadedPattern.FindStringSubmatch(line); m != nil {
		p.tracker.MarkDownloaded(p.userID, m[1])
		return
	}

	class := ClassifyLine(line)
	if class == FailureNone {
		return
	}
	p.failure = worse(p.failure, class)

	if class == FailureLookupMiss && !p.missFired {
		p.missFired = true
		if p.hooks.OnLookupMiss != nil {
			p.hooks.OnLookupMiss(p.searchTerm(line))
		}
	}
}

// searchTerm synthesizes the secondary-search phrase for a lookup miss:
// extracted title, then the title inside the error text, then the original
// locator, then whatever progress label is current.
func (p *SpotdlParser) searchTerm(line string) string {
	if p.knownTitle != "" {
		return p.knownTitle
	}
	if m := noResultsPattern.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	if p.originalURL != "" {
		return p.originalURL
	}
	if snap, ok := p.tracker.Snapshot(p.userID); ok && !isPlaceholderLabel(snap.CurrentLabel) {
		return snap.CurrentLabel
	}
	return "Unknown track"
}

// YtdlpParser folds yt-dlp's status stream into the progress record.
// It serves both the YouTube primary runs and the fallback searches.
type YtdlpParser struct {
	tracker *progress.Tracker
	userID  int64
	failure FailureClass
}

// NewYtdlpParser creates a parser bound to one user's progress record.
func NewYtdlpParser(tracker *progress.Tracker, userID int64) *YtdlpParser {
	return &YtdlpParser{tracker: tracker, userID: userID}
}

// Failure returns the worst failure class seen on the stream.
func (p *YtdlpParser) Failure() FailureClass {
	return p.failure
}

// HandleLine consumes one line of tool output.
func (p *YtdlpParser) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	// Cookie/browser warnings are informational, never fatal.
	if strings.Contains(line, "cookie database") || strings.Contains(line, "Extracting cookies from") {
		return
	}

	if m := itemPattern.FindStringSubmatch(line); m != nil {
		index, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		p.tracker.SetPosition(p.userID, index, total, "")
		return
	}

	if strings.Contains(line, "[ExtractAudio] Destination:") {
		if m := destinationPattern.FindStringSubmatch(line); m != nil {
			p.tracker.MarkDownloaded(p.userID, filepath.Base(strings.TrimSpace(m[1])))
		}
		return
	}

	if m := destinationPattern.FindStringSubmatch(line); m != nil {
		p.tracker.SetLabel(p.userID, filepath.Base(strings.TrimSpace(m[1])))
		return
	}

	if m := percentPattern.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			p.tracker.SetPercentage(p.userID, int(pct))
		}
		return
	}

	if class := ClassifyLine(line); class != FailureNone {
		p.failure = worse(p.failure, class)
	}
}

func isPlaceholderLabel(label string) bool {
	if label == "" {
		return true
	}
	for _, p := range placeholderLabels {
		if label == p {
			return true
		}
	}
	return false
}
