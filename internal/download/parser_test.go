package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunegrab/tunegrab/internal/progress"
)

func newTestTracker(userID int64) *progress.Tracker {
	tr := progress.NewTracker(time.Hour)
	tr.Begin(userID, 100, 1, "1234")
	return tr
}

func TestSpotdlParserCollectionStream(t *testing.T) {
	const userID int64 = 7
	tr := newTestTracker(userID)

	var gotName string
	var gotTotal int
	p := NewSpotdlParser(tr, userID, "", "https://open.spotify.com/playlist/abc", ParserHooks{
		OnCollection: func(name string, total int) {
			gotName = name
			gotTotal = total
		},
	})

	p.HandleLine("Found 5 songs in MyMix (Playlist)")
	p.HandleLine("Downloading 1 of 5: SongA")
	p.HandleLine(`Downloaded "SongA": https://youtube.com/watch?v=x`)

	snap, ok := tr.Snapshot(userID)
	require.True(t, ok)
	assert.Equal(t, 5, snap.TotalCount)
	assert.Equal(t, 1, snap.CompletedCount)
	assert.Equal(t, "SongA", snap.CurrentLabel)
	assert.Equal(t, "MyMix", snap.CollectionName)
	assert.Equal(t, 20, snap.Percentage)
	assert.Equal(t, "MyMix", gotName)
	assert.Equal(t, 5, gotTotal)
	assert.Equal(t, FailureNone, p.Failure())
}

func TestSpotdlParserCollectionHookFiresOnce(t *testing.T) {
	const userID int64 = 7
	tr := newTestTracker(userID)

	var fired int
	p := NewSpotdlParser(tr, userID, "", "", ParserHooks{
		OnCollection: func(string, int) { fired++ },
	})

	p.HandleLine("Found 5 songs in MyMix (Playlist)")
	p.HandleLine("Found 5 songs in MyMix (Playlist)")

	assert.Equal(t, 1, fired)
}

func TestSpotdlParserPositionBeforeFirstCompletion(t *testing.T) {
	const userID int64 = 7
	tr := newTestTracker(userID)
	p := NewSpotdlParser(tr, userID, "", "", ParserHooks{})

	p.HandleLine("Found 3 songs in Road Trip (Album)")
	p.HandleLine("Downloading 1 of 3: First Song")

	snap, _ := tr.Snapshot(userID)
	assert.Equal(t, 0, snap.CompletedCount)
	assert.Equal(t, 0, snap.Percentage)
	assert.Equal(t, "First Song", snap.CurrentLabel)
}

func TestSpotdlParserLookupMissFiresOnce(t *testing.T) {
	const userID int64 = 7
	tr := newTestTracker(userID)

	var terms []string
	p := NewSpotdlParser(tr, userID, "Artist - Song", "https://open.spotify.com/track/x", ParserHooks{
		OnLookupMiss: func(term string) { terms = append(terms, term) },
	})

	p.HandleLine("LookupError: No results found for song")
	p.HandleLine("KeyError: 'tracks'")

	require.Len(t, terms, 1)
	assert.Equal(t, "Artist - Song", terms[0])
	assert.Equal(t, FailureLookupMiss, p.Failure())
}

func TestSpotdlParserLookupMissTermPriority(t *testing.T) {
	const userID int64 = 7

	t.Run("error text beats locator", func(t *testing.T) {
		tr := newTestTracker(userID)
		var term string
		p := NewSpotdlParser(tr, userID, "", "https://open.spotify.com/track/x", ParserHooks{
			OnLookupMiss: func(s string) { term = s },
		})
		p.HandleLine("LookupError: No results found for song: Artist - Rare B-Side")
		assert.Equal(t, "Artist - Rare B-Side", term)
	})

	t.Run("locator is last resort before label", func(t *testing.T) {
		tr := newTestTracker(userID)
		var term string
		p := NewSpotdlParser(tr, userID, "", "https://open.spotify.com/track/x", ParserHooks{
			OnLookupMiss: func(s string) { term = s },
		})
		p.HandleLine("LookupError: something went wrong")
		assert.Equal(t, "https://open.spotify.com/track/x", term)
	})
}

func TestSpotdlParserFailureEscalation(t *testing.T) {
	const userID int64 = 7
	tr := newTestTracker(userID)
	p := NewSpotdlParser(tr, userID, "", "", ParserHooks{})

	p.HandleLine("LookupError: nothing")
	assert.Equal(t, FailureLookupMiss, p.Failure())

	p.HandleLine("AudioProviderError: provider said no")
	assert.Equal(t, FailureContentUnavailable, p.Failure())

	p.HandleLine("ERROR: Sign in to confirm you're not a bot")
	assert.Equal(t, FailureBlocked, p.Failure())

	// A lesser class never downgrades.
	p.HandleLine("DownloaderError: late noise")
	assert.Equal(t, FailureBlocked, p.Failure())
}

func TestYtdlpParserStream(t *testing.T) {
	const userID int64 = 9
	tr := newTestTracker(userID)
	p := NewYtdlpParser(tr, userID)

	p.HandleLine("[download] Downloading item 2 of 4")
	snap, _ := tr.Snapshot(userID)
	assert.Equal(t, 1, snap.CompletedCount)
	assert.Equal(t, 4, snap.TotalCount)

	p.HandleLine("[download] Destination: /tmp/work/Some Song.webm")
	snap, _ = tr.Snapshot(userID)
	assert.Equal(t, "Some Song.webm", snap.CurrentLabel)

	p.HandleLine("[download]  42.3% of 5.2MiB at 1.1MiB/s")
	snap, _ = tr.Snapshot(userID)
	assert.Equal(t, 42, snap.Percentage)

	p.HandleLine("[ExtractAudio] Destination: /tmp/work/Some Song.mp3")
	snap, _ = tr.Snapshot(userID)
	assert.Equal(t, 2, snap.CompletedCount)
	assert.Equal(t, "Some Song.mp3", snap.CurrentLabel)

	assert.Equal(t, FailureNone, p.Failure())
}

func TestYtdlpParserIgnoresCookieNoise(t *testing.T) {
	const userID int64 = 9
	tr := newTestTracker(userID)
	p := NewYtdlpParser(tr, userID)

	p.HandleLine("ERROR: could not copy cookie database")
	assert.Equal(t, FailureNone, p.Failure())

	p.HandleLine("ERROR: Sign in to confirm you're not a bot")
	assert.Equal(t, FailureBlocked, p.Failure())
}
