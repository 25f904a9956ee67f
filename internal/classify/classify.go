// Package classify turns raw chat text into a structured media source
// descriptor. It is a pure pattern matcher: unrecognized text is not an
// error, the caller simply answers with a usage hint.
package classify

import (
	"regexp"
	"strings"

	"github.com/tunegrab/tunegrab/internal/model"
)

var (
	spotifyPattern = regexp.MustCompile(`https://open\.spotify\.com/(track|album|playlist|artist)/([a-zA-Z0-9]+)`)

	youtubeHostPattern  = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com|youtu\.be)/`)
	youtubeListPattern  = regexp.MustCompile(`[?&]list=([a-zA-Z0-9_\-]+)`)
	youtubeWatchPattern = regexp.MustCompile(`(?:v=|youtu\.be/)([a-zA-Z0-9_\-]+)`)
)

// Classify extracts a media source from free-form text. The second return
// value reports whether any supported link grammar matched.
func Classify(text string) (model.Source, bool) {
	text = strings.TrimSpace(text)

	if m := spotifyPattern.FindStringSubmatch(text); m != nil {
		return model.Source{
			Provider: model.ProviderSpotify,
			Kind:     model.ContentKind(m[1]),
			ID:       m[2],
			URL:      text,
		}, true
	}

	if youtubeHostPattern.MatchString(text) {
		if m := youtubeListPattern.FindStringSubmatch(text); m != nil && strings.Contains(text, "playlist?") {
			return model.Source{
				Provider: model.ProviderYouTube,
				Kind:     model.KindPlaylist,
				ID:       m[1],
				URL:      text,
			}, true
		}
		if m := youtubeWatchPattern.FindStringSubmatch(text); m != nil {
			return model.Source{
				Provider: model.ProviderYouTube,
				Kind:     model.KindVideo,
				ID:       m[1],
				URL:      text,
			}, true
		}
	}

	return model.Source{}, false
}
