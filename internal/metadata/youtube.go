// Package metadata enriches sources with display information before a
// download starts: video and playlist details from the YouTube Data API
// and playlist contents resolved without an API key.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// YouTube Data API settings
const (
	defaultDataAPIBase = "https://www.googleapis.com/youtube/v3"
	dataAPITimeout     = 15 * time.Second
)

// VideoDetails is what the chat layer shows about a single video.
type VideoDetails struct {
	Title   string
	Channel string
	Views   int64
}

// PlaylistDetails is what the chat layer shows about a playlist.
type PlaylistDetails struct {
	Title     string
	Channel   string
	ItemCount int
}

// YouTubeClient queries the YouTube Data API v3. All methods degrade
// gracefully: callers treat errors as "no enrichment available".
type YouTubeClient struct {
	httpClient *http.Client
	apiKey     string
	apiBase    string
}

// NewYouTubeClient creates a client for the given API key.
func NewYouTubeClient(apiKey string) *YouTubeClient {
	return &YouTubeClient{
		httpClient: &http.Client{Timeout: dataAPITimeout},
		apiKey:     apiKey,
		apiBase:    defaultDataAPIBase,
	}
}

// Enabled reports whether an API key is configured.
func (c *YouTubeClient) Enabled() bool {
	return c.apiKey != ""
}

// Video fetches title, channel and view count for a video ID.
func (c *YouTubeClient) Video(ctx context.Context, videoID string) (VideoDetails, error) {
	var out struct {
		Items []struct {
			Snippet struct {
				Title        string `json:"title"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
			Statistics struct {
				ViewCount string `json:"viewCount"`
			} `json:"statistics"`
		} `json:"items"`
	}
	params := url.Values{"part": {"snippet,statistics"}, "id": {videoID}}
	if err := c.get(ctx, "/videos", params, &out); err != nil {
		return VideoDetails{}, err
	}
	if len(out.Items) == 0 {
		return VideoDetails{}, fmt.Errorf("video %s not found", videoID)
	}

	views, _ := strconv.ParseInt(out.Items[0].Statistics.ViewCount, 10, 64)
	return VideoDetails{
		Title:   out.Items[0].Snippet.Title,
		Channel: out.Items[0].Snippet.ChannelTitle,
		Views:   views,
	}, nil
}

// Playlist fetches title, channel and item count for a playlist ID.
func (c *YouTubeClient) Playlist(ctx context.Context, playlistID string) (PlaylistDetails, error) {
	var out struct {
		Items []struct {
			Snippet struct {
				Title        string `json:"title"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
			ContentDetails struct {
				ItemCount int `json:"itemCount"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	params := url.Values{"part": {"snippet,contentDetails"}, "id": {playlistID}}
	if err := c.get(ctx, "/playlists", params, &out); err != nil {
		return PlaylistDetails{}, err
	}
	if len(out.Items) == 0 {
		return PlaylistDetails{}, fmt.Errorf("playlist %s not found", playlistID)
	}

	return PlaylistDetails{
		Title:     out.Items[0].Snippet.Title,
		Channel:   out.Items[0].Snippet.ChannelTitle,
		ItemCount: out.Items[0].ContentDetails.ItemCount,
	}, nil
}

func (c *YouTubeClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("no API key configured")
	}
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("data api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("data api: unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
