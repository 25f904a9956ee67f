package bot

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/tunegrab/tunegrab/internal/classify"
	"github.com/tunegrab/tunegrab/internal/model"
	"github.com/tunegrab/tunegrab/internal/session"
	"github.com/tunegrab/tunegrab/internal/telegram"
)

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	userID, chatID := msg.From.ID, msg.Chat.ID

	switch msg.Text {
	case "/start":
		b.reply(ctx, chatID, welcomeText)
		return
	case "/stop":
		b.handleStop(ctx, userID, chatID)
		return
	}

	src, ok := classify.Classify(msg.Text)
	if !ok {
		b.reply(ctx, chatID, unrecognizedText)
		return
	}

	b.log.Info("link received",
		zap.Int64("user", userID),
		zap.String("provider", string(src.Provider)),
		zap.String("kind", string(src.Kind)))

	// Spotify sources need no negotiation; YouTube asks for a format.
	if src.Provider == model.ProviderSpotify {
		b.startJob(ctx, userID, chatID, src, model.DefaultAudioChoice(), 0)
		return
	}

	if text := b.enrichmentText(ctx, src); text != "" {
		b.reply(ctx, chatID, text)
	}

	b.sessions.Create(userID, chatID, src)
	rows := [][]telegram.Button{{
		{Text: "🎧 Audio", Data: session.Choice{Kind: session.SelectMediaType, Value: "mp3", UserID: userID}.Encode()},
		{Text: "🎬 Video", Data: session.Choice{Kind: session.SelectMediaType, Value: "mp4", UserID: userID}.Encode()},
	}}
	if _, err := b.api.SendButtons(ctx, chatID, mediaTypePrompt, rows); err != nil {
		b.log.Warn("keyboard send failed", zap.Error(err))
		b.sessions.Evict(userID)
	}
}

// enrichmentText builds the title and channel announcement shown before
// the format keyboard. A missing API key or a failed lookup yields an
// empty string and the conversation carries on without it.
func (b *Bot) enrichmentText(ctx context.Context, src model.Source) string {
	if !b.yt.Enabled() {
		return ""
	}
	if src.Kind == model.KindPlaylist {
		pl, err := b.yt.Playlist(ctx, src.ID)
		if err != nil {
			b.log.Debug("playlist lookup failed", zap.String("id", src.ID), zap.Error(err))
			return ""
		}
		return playlistAnnouncement(pl)
	}
	v, err := b.yt.Video(ctx, src.ID)
	if err != nil {
		b.log.Debug("video lookup failed", zap.String("id", src.ID), zap.Error(err))
		return ""
	}
	return videoAnnouncement(v)
}

func (b *Bot) handleStop(ctx context.Context, userID, chatID int64) {
	b.sessions.Evict(userID)
	if b.jobs.cancel(userID) {
		b.reply(ctx, chatID, "🛑 Stopping your download...")
		return
	}
	b.reply(ctx, chatID, "Nothing to stop.")
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	choice, err := session.ParseChoice(cb.Data)
	if err != nil {
		b.log.Warn("bad callback payload", zap.String("data", cb.Data), zap.Error(err))
		b.answer(ctx, cb.ID, "Unsupported action.")
		return
	}

	// Keyboards live in shared chats; only the requester may press them.
	if cb.From.ID != choice.UserID {
		b.answer(ctx, cb.ID, "This menu is not for you.")
		return
	}

	conv, ok := b.sessions.Lookup(choice.UserID)
	if !ok {
		b.answer(ctx, cb.ID, "This request has expired. Send the link again.")
		return
	}

	var chatID int64
	var messageID int
	if cb.Message != nil {
		chatID, messageID = cb.Message.Chat.ID, cb.Message.MessageID
	} else {
		chatID = conv.ChatID
	}

	switch choice.Kind {
	case session.SelectMediaType:
		b.handleMediaType(ctx, cb, choice, conv, chatID, messageID)

	case session.SelectAudioQuality:
		b.sessions.Evict(choice.UserID)
		b.answer(ctx, cb.ID, "")
		b.startJob(ctx, choice.UserID, chatID, conv.Source,
			model.FormatChoice{Audio: true, Codec: choice.Value}, messageID)

	case session.SelectVideoQuality:
		height, err := choice.Height()
		if err != nil {
			b.answer(ctx, cb.ID, "Unsupported action.")
			return
		}
		b.sessions.Evict(choice.UserID)
		b.answer(ctx, cb.ID, "")
		b.startJob(ctx, choice.UserID, chatID, conv.Source,
			model.FormatChoice{Height: height}, messageID)
	}
}

func (b *Bot) handleMediaType(ctx context.Context, cb *telegram.CallbackQuery, choice session.Choice, conv session.Conversation, chatID int64, messageID int) {
	audio := choice.Value != "mp4"
	if err := b.sessions.Advance(choice.UserID, audio); err != nil {
		b.answer(ctx, cb.ID, "This request has expired. Send the link again.")
		return
	}
	b.answer(ctx, cb.ID, "")

	if audio {
		rows := [][]telegram.Button{{
			{Text: "MP3 320kbps", Data: session.Choice{Kind: session.SelectAudioQuality, Value: "mp3", UserID: choice.UserID}.Encode()},
			{Text: "FLAC", Data: session.Choice{Kind: session.SelectAudioQuality, Value: "flac", UserID: choice.UserID}.Encode()},
		}}
		b.editButtons(ctx, chatID, messageID, audioQualityPrompt, rows)
		return
	}

	heights, err := b.probe.Resolutions(ctx, conv.Source.URL)
	if err != nil || len(heights) == 0 {
		if err != nil {
			b.log.Warn("format probe failed", zap.Error(err))
		}
		b.sessions.Evict(choice.UserID)
		b.editFinal(ctx, chatID, messageID, noFormatsText)
		return
	}
	var rows [][]telegram.Button
	var row []telegram.Button
	for _, h := range heights {
		row = append(row, telegram.Button{
			Text: fmt.Sprintf("%dp", h),
			Data: session.Choice{Kind: session.SelectVideoQuality, Value: strconv.Itoa(h), UserID: choice.UserID}.Encode(),
		})
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	b.editButtons(ctx, chatID, messageID, videoQualityPrompt, rows)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.SendText(ctx, chatID, text); err != nil {
		b.log.Warn("send failed", zap.Int64("chat", chatID), zap.Error(err))
	}
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	if err := b.api.AnswerCallback(ctx, callbackID, text); err != nil {
		b.log.Debug("callback answer failed", zap.Error(err))
	}
}

func (b *Bot) editButtons(ctx context.Context, chatID int64, messageID int, text string, rows [][]telegram.Button) {
	if messageID == 0 {
		if _, err := b.api.SendButtons(ctx, chatID, text, rows); err != nil {
			b.log.Warn("keyboard send failed", zap.Error(err))
		}
		return
	}
	if err := b.api.EditButtons(ctx, chatID, messageID, text, rows); err != nil {
		b.log.Warn("keyboard edit failed", zap.Error(err))
	}
}
