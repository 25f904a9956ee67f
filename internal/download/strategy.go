package download

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tunegrab/tunegrab/internal/model"
)

// Tool executables
const (
	SpotdlCommand = "spotdl"
	YtdlpCommand  = "yt-dlp"
)

// Client identities presented to the platform; each fallback step uses a
// different one.
const (
	uaDesktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	uaEdge    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36 Edg/118.0.2088.76"
	uaMobile  = "Mozilla/5.0 (Android 11; Mobile; rv:105.0) Gecko/105.0 Firefox/105.0"
	uaAndroid = "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36"
)

// Output template for the download tools.
const outputTemplate = "%(title)s.%(ext)s"

// Strategy describes one fallback retrieval attempt: how to derive its
// search phrase from the known title, which client identity to present
// and how long to let it run.
type Strategy struct {
	ID            string
	Transform     func(title string) string
	UserAgent     string
	PlayerClient  string
	SleepRequests string
	Timeout       time.Duration
}

// FallbackChain is the fixed, ordered list of strategies attempted after
// the primary fails or times out. Each step is skipped as soon as any
// earlier step has produced output; there is no retry beyond this list.
func FallbackChain() []Strategy {
	return []Strategy{
		{
			ID:            "search-full-title",
			Transform:     func(title string) string { return title },
			UserAgent:     uaDesktop,
			SleepRequests: "1",
			Timeout:       5 * time.Minute,
		},
		{
			ID:            "search-stripped-title",
			Transform:     StripTrailingParenthetical,
			UserAgent:     uaEdge,
			PlayerClient:  "web,mweb",
			SleepRequests: "3",
			Timeout:       3 * time.Minute,
		},
		{
			ID:            "search-core-phrase",
			Transform:     CorePhrase,
			UserAgent:     uaMobile,
			PlayerClient:  "android",
			SleepRequests: "5",
			Timeout:       2 * time.Minute,
		},
	}
}

// rescueStrategy is the shape used for the one silent in-stream rescue a
// lookup miss may trigger while the primary keeps running.
func rescueStrategy() Strategy {
	return Strategy{
		ID:            "lookup-miss-rescue",
		Transform:     func(title string) string { return title },
		UserAgent:     uaDesktop,
		SleepRequests: "1",
		Timeout:       5 * time.Minute,
	}
}

// StripTrailingParenthetical removes a trailing "(...)" qualifier, turning
// "Song (Remastered 2011)" into "Song".
func StripTrailingParenthetical(title string) string {
	title = strings.TrimSpace(title)
	if strings.HasSuffix(title, ")") {
		if i := strings.LastIndex(title, "("); i > 0 {
			return strings.TrimSpace(title[:i])
		}
	}
	return title
}

// CorePhrase reduces a title to its first significant word group: the song
// part after an "Artist - " prefix, cut before any parenthetical.
func CorePhrase(title string) string {
	title = strings.TrimSpace(title)
	if _, after, ok := strings.Cut(title, " - "); ok {
		title = after
	}
	if i := strings.Index(title, "("); i > 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}

// spotdlArgs builds the primary resolver invocation.
func spotdlArgs(url, dir string) []string {
	return []string{
		"download", url,
		"--output", dir,
		"--format", "mp3",
		"--bitrate", "320k",
		"--threads", "2",
		"--max-retries", "2",
		"--print-errors",
		"--no-cache",
	}
}

// searchArgs builds a yt-dlp single-result search for one strategy.
func searchArgs(st Strategy, term, dir string) []string {
	args := []string{
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "320K",
		"--embed-metadata",
		"--no-playlist",
		"--max-downloads", "1",
		"--format", "bestaudio[ext=m4a]/bestaudio/best",
		"--no-warnings",
		"--ignore-errors",
		"-o", filepath.Join(dir, outputTemplate),
	}
	if st.UserAgent != "" {
		args = append(args, "--user-agent", st.UserAgent)
	}
	if st.PlayerClient != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+st.PlayerClient)
	}
	if st.SleepRequests != "" {
		args = append(args, "--sleep-requests", st.SleepRequests)
	}
	return append(args, "ytsearch1:"+term)
}

// youtubeArgs builds the direct yt-dlp invocation for a YouTube source
// with the user's chosen format.
func youtubeArgs(url, dir string, choice model.FormatChoice) []string {
	common := []string{
		"--ignore-errors", "--no-abort-on-error", "--no-check-certificate",
		"--extractor-args", "youtube:player_client=android,web",
		"--user-agent", uaAndroid,
	}
	outFlag := []string{"-o", filepath.Join(dir, outputTemplate)}

	if choice.Audio {
		var fmtArgs []string
		switch choice.Codec {
		case "flac":
			fmtArgs = []string{
				"-f", "bestaudio[acodec^=opus]/bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best",
				"--audio-quality", "0",
				"--audio-format", "flac",
			}
		default:
			fmtArgs = []string{
				"-f", "bestaudio[ext=m4a]/bestaudio/best",
				"--audio-quality", "320K",
				"--audio-format", "mp3",
			}
		}
		args := append(append([]string{}, common...), fmtArgs...)
		args = append(args, "--extract-audio", "--embed-metadata", "--embed-thumbnail")
		args = append(args, outFlag...)
		return append(args, url)
	}

	selector := "bestvideo[height<=" + choice.String() + "][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	args := append(append([]string{}, common...),
		"-f", selector,
		"--merge-output-format", "mp4",
		"--embed-metadata", "--embed-thumbnail",
	)
	args = append(args, outFlag...)
	return append(args, url)
}
