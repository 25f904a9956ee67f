package bot

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tunegrab/tunegrab/internal/metadata"
	"github.com/tunegrab/tunegrab/internal/progress"
)

// Bar geometry for progress messages.
const (
	barSegments   = 10
	barFilledRune = "▰"
	barEmptyRune  = "▱"
)

// Static chat texts
const (
	welcomeText = "👋 Send me a Spotify or YouTube link and I will fetch it for you.\n\n" +
		"• Spotify tracks, albums, playlists and artists\n" +
		"• YouTube videos and playlists\n\n" +
		"Send /stop to cancel a running download."

	unrecognizedText = "🤔 I did not recognize that. Send a Spotify or YouTube link."

	startingText = "⏳ Starting your download..."

	mediaTypePrompt    = "What would you like?"
	audioQualityPrompt = "Choose the audio format:"
	videoQualityPrompt = "Choose the video quality:"

	noFormatsText = "❌ Could not find any downloadable formats for that video."
)

// renderProgress formats one progress snapshot as the chat message body.
func renderProgress(s progress.Snapshot) string {
	var sb strings.Builder

	if s.CollectionName != "" {
		fmt.Fprintf(&sb, "🎵 <b>%s</b>\n\n", escapeHTML(s.CollectionName))
	}

	switch s.Phase {
	case progress.PhaseError:
		sb.WriteString("❌ Download failed.")
		return sb.String()
	case progress.PhaseCompleted:
		fmt.Fprintf(&sb, "✅ Downloaded %d of %d\n", s.CompletedCount, s.TotalCount)
	default:
		if s.CurrentLabel != "" {
			fmt.Fprintf(&sb, "⬇️ %s\n", escapeHTML(s.CurrentLabel))
		}
		fmt.Fprintf(&sb, "%s %d%%", progressBar(s.Percentage), s.Percentage)
		if s.TotalCount > 1 {
			fmt.Fprintf(&sb, " (%d of %d)", s.CompletedCount, s.TotalCount)
		}
		sb.WriteString("\n")
	}

	if s.UploadStatusLabel != "" {
		fmt.Fprintf(&sb, "\n📦 %s\n%s %d%%\n",
			s.UploadStatusLabel, progressBar(s.UploadPercentage), s.UploadPercentage)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func progressBar(pct int) string {
	filled := pct * barSegments / 100
	if filled > barSegments {
		filled = barSegments
	}
	return strings.Repeat(barFilledRune, filled) + strings.Repeat(barEmptyRune, barSegments-filled)
}

func doneText(partial bool) string {
	if partial {
		return "✅ Done! Some items could not be retrieved."
	}
	return "✅ Done! Enjoy."
}

func doneArchiveText(password, link string, partial bool) string {
	var sb strings.Builder
	sb.WriteString("✅ Your files are ready!\n")
	fmt.Fprintf(&sb, "\n🔗 %s\n", link)
	fmt.Fprintf(&sb, "🔑 Password: <code>%s</code>", escapeHTML(password))
	if partial {
		sb.WriteString("\n\n⚠️ Some items could not be retrieved.")
	}
	return sb.String()
}

// videoAnnouncement and playlistAnnouncement introduce a recognized
// link before the format keyboard appears.
func videoAnnouncement(v metadata.VideoDetails) string {
	return fmt.Sprintf("🎬 <b>%s</b>\n📺 Channel: %s\n👁️ Views: %s",
		escapeHTML(v.Title), escapeHTML(v.Channel), groupDigits(v.Views))
}

func playlistAnnouncement(pl metadata.PlaylistDetails) string {
	return fmt.Sprintf("🎬 <b>%s</b>\n📺 Channel: %s\n📊 Videos: %d",
		escapeHTML(pl.Title), escapeHTML(pl.Channel), pl.ItemCount)
}

var digitPrinter = message.NewPrinter(language.English)

func groupDigits(n int64) string {
	return digitPrinter.Sprintf("%d", n)
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
