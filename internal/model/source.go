package model

// Provider identifies the external platform a link points at.
type Provider string

const (
	ProviderSpotify Provider = "spotify"
	ProviderYouTube Provider = "youtube"
)

// ContentKind distinguishes single items from multi-item sources.
type ContentKind string

const (
	KindTrack    ContentKind = "track"
	KindAlbum    ContentKind = "album"
	KindPlaylist ContentKind = "playlist"
	KindArtist   ContentKind = "artist"
	KindVideo    ContentKind = "video"
)

// Source describes a recognized media link. Immutable once created.
type Source struct {
	Provider Provider
	Kind     ContentKind
	ID       string
	URL      string
}

// IsCollection reports whether the source refers to a multi-item request
// (album, playlist, artist discography, or a YouTube playlist).
func (s Source) IsCollection() bool {
	switch s.Kind {
	case KindAlbum, KindPlaylist, KindArtist:
		return true
	}
	return false
}
