package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"
)

// Playlist probe settings
const (
	defaultProbeTimeout = 60 * time.Second

	playlistParam  = "list="
	paramSeparator = "&"

	videoURLTemplate = "https://www.youtube.com/watch?v=%s"

	minCommonPrefix     = 10
	playlistTitleSuffix = " Playlist"
	defaultPlaylistName = "Unknown Playlist"
)

// PlaylistItem is one entry of a resolved playlist.
type PlaylistItem struct {
	VideoID string
	Title   string
	URL     string
}

// ResolvedPlaylist holds a playlist's resolved contents.
type ResolvedPlaylist struct {
	ID    string
	Title string
	Items []PlaylistItem
}

// PlaylistProbe resolves playlist contents without an API key.
type PlaylistProbe struct {
	timeout time.Duration
}

// NewPlaylistProbe creates a probe with the default timeout.
func NewPlaylistProbe() *PlaylistProbe {
	return &PlaylistProbe{timeout: defaultProbeTimeout}
}

// SetTimeout overrides the resolution timeout.
func (p *PlaylistProbe) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// Resolve fetches all items of the playlist the URL points at.
func (p *PlaylistProbe) Resolve(ctx context.Context, url string) (*ResolvedPlaylist, error) {
	playlistID := ExtractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("no playlist ID in URL: %s", url)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, fmt.Errorf("resolve playlist %s: %w", playlistID, err)
	}

	resolved := &ResolvedPlaylist{ID: playlistID}
	for _, it := range items {
		resolved.Items = append(resolved.Items, PlaylistItem{
			VideoID: it.VideoID,
			Title:   it.Title,
			URL:     fmt.Sprintf(videoURLTemplate, it.VideoID),
		})
	}
	resolved.Title = deriveTitle(resolved.Items)
	return resolved, nil
}

// ExtractPlaylistID pulls the list parameter out of a playlist URL.
func ExtractPlaylistID(url string) string {
	_, after, ok := strings.Cut(url, playlistParam)
	if !ok {
		return ""
	}
	if id, _, found := strings.Cut(after, paramSeparator); found {
		return id
	}
	return after
}

// deriveTitle names a playlist from its items since the flat listing
// carries no playlist title: the shared prefix of the first two titles
// when it is long enough, the first title otherwise.
func deriveTitle(items []PlaylistItem) string {
	if len(items) == 0 {
		return defaultPlaylistName
	}
	if len(items) > 1 {
		prefix := commonPrefix(items[0].Title, items[1].Title)
		if len(prefix) > minCommonPrefix {
			return strings.TrimSpace(prefix) + playlistTitleSuffix
		}
	}
	return items[0].Title + playlistTitleSuffix
}

func commonPrefix(s1, s2 string) string {
	n := min(len(s1), len(s2))
	for i := 0; i < n; i++ {
		if s1[i] != s2[i] {
			return s1[:i]
		}
	}
	return s1[:n]
}
