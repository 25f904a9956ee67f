// Package bot wires the chat transport to the download pipeline: it
// classifies incoming links, negotiates formats over inline keyboards,
// runs jobs and delivers the results.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tunegrab/tunegrab/internal/archive"
	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/download"
	"github.com/tunegrab/tunegrab/internal/metadata"
	"github.com/tunegrab/tunegrab/internal/model"
	"github.com/tunegrab/tunegrab/internal/progress"
	"github.com/tunegrab/tunegrab/internal/session"
	"github.com/tunegrab/tunegrab/internal/telegram"
	"github.com/tunegrab/tunegrab/internal/upload"
)

// Timeout for outbound chat calls made after the job context ended.
const finalizeTimeout = 30 * time.Second

// chatAPI is the slice of the Bot API the chat layer uses.
type chatAPI interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]telegram.Update, error)
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendButtons(ctx context.Context, chatID int64, text string, rows [][]telegram.Button) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	EditButtons(ctx context.Context, chatID int64, messageID int, text string, rows [][]telegram.Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	SendFile(ctx context.Context, chatID int64, path, caption string) error
}

// retriever runs a job's download strategies.
type retriever interface {
	Run(ctx context.Context, job *model.DownloadJob, knownTitle string, onCollection func(name string, total int)) (download.Result, error)
}

// prober answers pre-download metadata questions via the tools.
type prober interface {
	Resolutions(ctx context.Context, url string) ([]int, error)
	Title(ctx context.Context, url string) (string, error)
	TrackTerm(ctx context.Context, url string) (string, error)
}

// uploader ships a file to the external host, reporting the current
// stage alongside the percentage.
type uploader interface {
	Upload(ctx context.Context, path string, onProgress func(pct int, status string)) (string, error)
}

// enricher answers pre-download title and channel lookups via the Data
// API when a key is configured.
type enricher interface {
	Enabled() bool
	Video(ctx context.Context, id string) (metadata.VideoDetails, error)
	Playlist(ctx context.Context, id string) (metadata.PlaylistDetails, error)
}

// archiver packs files into an encrypted archive.
type archiver interface {
	Pack(ctx context.Context, files []string, dest, password string) error
}

// Bot is the application root: one instance serves one bot token.
type Bot struct {
	cfg *config.Config
	log *zap.Logger

	api       chatAPI
	sessions  *session.Registry
	tracker   *progress.Tracker
	retriever retriever
	probe     prober
	uploader  uploader

	// newArchiver builds a packer reporting into the given callback.
	newArchiver func(onProgress func(done, total int)) archiver

	yt        enricher
	playlists *metadata.PlaylistProbe

	jobs *jobRegistry
	wg   sync.WaitGroup
}

// New assembles a bot from configuration.
func New(cfg *config.Config, log *zap.Logger) *Bot {
	tracker := progress.NewTracker(cfg.Download.PublishInterval)
	b := &Bot{
		cfg:       cfg,
		log:       log,
		api:       telegram.NewClient(cfg.Telegram.Token, log),
		sessions:  session.NewRegistry(),
		tracker:   tracker,
		retriever: download.NewOrchestrator(log, tracker, cfg.Download.PrimaryTimeout),
		probe:     download.NewProbe(),
		uploader:  upload.NewGoFileClient(cfg.GoFile.Token, log),
		newArchiver: func(onProgress func(done, total int)) archiver {
			return archive.NewPacker(onProgress)
		},
		yt:        metadata.NewYouTubeClient(cfg.YouTube.APIKey),
		playlists: metadata.NewPlaylistProbe(),
		jobs:      newJobRegistry(),
	}
	tracker.SetPublishFunc(b.publishProgress)
	return b
}

// Run polls for updates until ctx is cancelled, then waits for active
// jobs to wind down.
func (b *Bot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.pollLoop(ctx)
	})

	err := g.Wait()
	b.wg.Wait()
	return err
}

func (b *Bot) pollLoop(ctx context.Context) error {
	b.log.Info("polling for updates",
		zap.Int("longPollSeconds", b.cfg.Telegram.LongPollSeconds))

	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := b.api.GetUpdates(ctx, offset, b.cfg.Telegram.LongPollSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.Download.PollInterval):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u telegram.Update) {
	switch {
	case u.Message != nil && u.Message.From != nil:
		b.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	}
}

// publishProgress renders and edits the job's progress message. It runs
// detached from job contexts so terminal updates still go out.
func (b *Bot) publishProgress(userID int64, snap progress.Snapshot) {
	if snap.MessageID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	err := b.api.EditText(ctx, snap.ChatID, snap.MessageID, renderProgress(snap))
	if err != nil && !strings.Contains(err.Error(), "message is not modified") {
		b.log.Debug("progress edit failed", zap.Int64("user", userID), zap.Error(err))
	}
}
