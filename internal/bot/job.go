package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tunegrab/tunegrab/internal/archive"
	"github.com/tunegrab/tunegrab/internal/download"
	"github.com/tunegrab/tunegrab/internal/model"
	"github.com/tunegrab/tunegrab/internal/platform"
	"github.com/tunegrab/tunegrab/internal/progress"
)

const archiveNameMax = 60

// jobRegistry enforces the one-active-job-per-user rule and carries the
// cancel handle /stop uses.
type jobRegistry struct {
	mu     sync.Mutex
	active map[int64]*jobHandle
}

type jobHandle struct {
	cancel context.CancelFunc
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{active: make(map[int64]*jobHandle)}
}

// begin claims the user's job slot. It returns nil when a job is
// already running.
func (r *jobRegistry) begin(userID int64, cancel context.CancelFunc) *jobHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[userID]; busy {
		return nil
	}
	h := &jobHandle{cancel: cancel}
	r.active[userID] = h
	return h
}

// end releases the slot, unless cancel already released it and a newer
// job has claimed it since.
func (r *jobRegistry) end(userID int64, h *jobHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[userID] == h {
		delete(r.active, userID)
	}
}

// cancel aborts the user's running job, reporting whether one existed.
// The slot is freed right away so the next link is accepted while the
// cancelled job is still winding down.
func (r *jobRegistry) cancel(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.active[userID]
	if ok {
		h.cancel()
		delete(r.active, userID)
	}
	return ok
}

// startJob claims the user's job slot and runs the pipeline in the
// background. messageID, when non-zero, is an existing chat message to
// reuse for progress.
func (b *Bot) startJob(ctx context.Context, userID, chatID int64, src model.Source, format model.FormatChoice, messageID int) {
	jctx, cancel := context.WithCancel(ctx)
	handle := b.jobs.begin(userID, cancel)
	if handle == nil {
		cancel()
		b.reply(ctx, chatID, "You already have an active download. Send /stop to cancel it.")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.jobs.end(userID, handle)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("job panicked",
					zap.Int64("user", userID), zap.Any("panic", r))
			}
		}()
		b.runJob(jctx, userID, chatID, src, format, messageID)
	}()
}

func (b *Bot) runJob(ctx context.Context, userID, chatID int64, src model.Source, format model.FormatChoice, messageID int) {
	workDir, err := platform.NewWorkDir(b.cfg.Download.WorkRoot, userID)
	if err != nil {
		b.log.Error("workdir create failed", zap.Error(err))
		b.reply(ctx, chatID, "❌ Could not start the download. Please try again.")
		return
	}
	defer func() {
		go platform.RemoveWorkDir(workDir, b.cfg.Download.CleanupGrace)
	}()

	if messageID == 0 {
		messageID, err = b.api.SendText(ctx, chatID, startingText)
		if err != nil {
			b.log.Warn("progress message send failed", zap.Error(err))
			return
		}
	} else if err := b.api.EditText(ctx, chatID, messageID, startingText); err != nil {
		b.log.Debug("progress message edit failed", zap.Error(err))
	}

	password := archive.NewPassword()
	b.tracker.Begin(userID, chatID, messageID, password)
	defer b.tracker.End(userID)

	job := &model.DownloadJob{
		ID:        model.NewJobID(),
		UserID:    userID,
		ChatID:    chatID,
		Source:    src,
		Format:    format,
		WorkDir:   workDir,
		StartedAt: time.Now(),
	}
	b.log.Info("job started",
		zap.String("job", job.ID),
		zap.Int64("user", userID),
		zap.String("provider", string(src.Provider)),
		zap.String("kind", string(src.Kind)),
		zap.String("format", format.String()))

	// Periodic publishing and the corrective disk recount run for the
	// whole download.
	trackerCtx, stopTracker := context.WithCancel(ctx)
	var trackerWG sync.WaitGroup
	trackerWG.Add(1)
	go func() {
		defer trackerWG.Done()
		b.tracker.Run(trackerCtx, userID, b.cfg.Download.RecountInterval, func() int {
			return platform.CountMediaFiles(workDir)
		})
	}()

	knownTitle := b.prefetchTitle(ctx, job)
	b.tracker.SetPhase(userID, progress.PhaseDownloading)
	b.tracker.ForcePublish(userID)

	res, err := b.retriever.Run(ctx, job, knownTitle, func(name string, total int) {
		b.tracker.ForcePublish(userID)
	})
	stopTracker()
	trackerWG.Wait()

	if err != nil {
		fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
		if errors.Is(err, context.Canceled) {
			b.log.Info("job cancelled", zap.String("job", job.ID))
			b.editFinal(fctx, chatID, messageID, "🛑 Download cancelled.")
		} else {
			b.log.Error("job failed", zap.String("job", job.ID), zap.Error(err))
			b.editFinal(fctx, chatID, messageID, failureText(download.FailureOther))
		}
		return
	}

	b.deliver(ctx, job, res, password, messageID)
}

// prefetchTitle resolves the best display title before the tools run.
// Failures degrade to an empty title.
func (b *Bot) prefetchTitle(ctx context.Context, job *model.DownloadJob) string {
	src := job.Source
	switch src.Provider {
	case model.ProviderSpotify:
		if src.Kind != model.KindTrack {
			return ""
		}
		term, err := b.probe.TrackTerm(ctx, src.URL)
		if err != nil || term == "" {
			return ""
		}
		b.tracker.SetLabel(job.UserID, term)
		return term

	case model.ProviderYouTube:
		if src.Kind == model.KindPlaylist {
			return b.prefetchPlaylistTitle(ctx, job)
		}
		if b.yt.Enabled() {
			if v, err := b.yt.Video(ctx, src.ID); err == nil && v.Title != "" {
				b.tracker.SetLabel(job.UserID, v.Title)
				return v.Title
			}
		}
		if title, err := b.probe.Title(ctx, src.URL); err == nil && title != "" {
			b.tracker.SetLabel(job.UserID, title)
			return title
		}
	}
	return ""
}

func (b *Bot) prefetchPlaylistTitle(ctx context.Context, job *model.DownloadJob) string {
	if b.yt.Enabled() {
		if pl, err := b.yt.Playlist(ctx, job.Source.ID); err == nil && pl.Title != "" {
			b.tracker.SetCollectionTitle(job.UserID, pl.Title)
			return pl.Title
		}
	}
	if pl, err := b.playlists.Resolve(ctx, job.Source.URL); err == nil && pl.Title != "" {
		b.tracker.SetCollectionTitle(job.UserID, pl.Title)
		return pl.Title
	}
	return ""
}

// deliver decides how the output reaches the user: one small standalone
// file goes straight to the chat, everything else is packed into an
// encrypted archive and uploaded, with the link and password reported
// together.
func (b *Bot) deliver(ctx context.Context, job *model.DownloadJob, res download.Result, password string, messageID int) {
	userID, chatID := job.UserID, job.ChatID
	fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if len(res.Files) == 0 {
		b.tracker.SetPhase(userID, progress.PhaseError)
		b.editFinal(fctx, chatID, messageID, failureText(res.Failure))
		return
	}

	threshold := b.cfg.Download.SizeThresholdBytes()
	if len(res.Files) == 1 && !job.Source.IsCollection() {
		if info, err := os.Stat(res.Files[0]); err == nil && info.Size() <= threshold {
			b.sendDirect(ctx, fctx, job, res, messageID)
			return
		}
	}
	b.sendArchive(ctx, fctx, job, res, password, messageID)
}

func (b *Bot) sendDirect(ctx, fctx context.Context, job *model.DownloadJob, res download.Result, messageID int) {
	chatID := job.ChatID
	b.editFinal(ctx, chatID, messageID, "📤 Sending your file...")

	if err := b.api.SendFile(ctx, chatID, res.Files[0], ""); err != nil {
		b.log.Error("direct send failed", zap.String("job", job.ID), zap.Error(err))
		b.editFinal(fctx, chatID, messageID, "❌ Sending the file failed. Please try again.")
		return
	}
	b.editFinal(fctx, chatID, messageID, doneText(res.Partial))
}

func (b *Bot) sendArchive(ctx, fctx context.Context, job *model.DownloadJob, res download.Result, password string, messageID int) {
	userID, chatID := job.UserID, job.ChatID

	snap, _ := b.tracker.Snapshot(userID)
	name := archiveBaseName(job, res.Files, snap.CollectionName)
	zipPath := filepath.Join(job.WorkDir, name+archive.ExtensionZip)

	b.tracker.SetUpload(userID, 0, "Packing files...")
	b.tracker.ForcePublish(userID)

	packer := b.newArchiver(func(done, total int) {
		b.tracker.SetUpload(userID, done*100/total, "Packing files...")
		b.tracker.MaybePublish(userID)
	})
	if err := packer.Pack(ctx, res.Files, zipPath, password); err != nil {
		b.log.Error("packing failed", zap.String("job", job.ID), zap.Error(err))
		b.editFinal(fctx, chatID, messageID, "❌ Packing the files failed. Please try again.")
		return
	}

	link, err := b.uploader.Upload(ctx, zipPath, func(pct int, status string) {
		b.tracker.SetUpload(userID, pct, status)
		b.tracker.MaybePublish(userID)
	})
	if err != nil {
		b.log.Error("upload failed", zap.String("job", job.ID), zap.Error(err))
		b.editFinal(fctx, chatID, messageID, "❌ Uploading the archive failed. Please try again.")
		return
	}
	b.editFinal(fctx, chatID, messageID, doneArchiveText(password, link, res.Partial))
}

func (b *Bot) editFinal(ctx context.Context, chatID int64, messageID int, text string) {
	if err := b.api.EditText(ctx, chatID, messageID, text); err != nil &&
		!strings.Contains(err.Error(), "message is not modified") {
		b.log.Debug("final edit failed", zap.Error(err))
	}
}

// archiveBaseName names the delivered archive: the collection title when
// known, the lone file's stem otherwise, and a synthetic source tag as
// the last resort.
func archiveBaseName(job *model.DownloadJob, files []string, collectionName string) string {
	if collectionName != "" {
		return platform.SafeFileName(collectionName, archiveNameMax)
	}
	if len(files) == 1 {
		base := filepath.Base(files[0])
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if stem != "" {
			return platform.SafeFileName(stem, archiveNameMax)
		}
	}
	tag := fmt.Sprintf("%s_%s_%s_%d",
		job.Source.Provider, job.Source.Kind, job.Source.ID, job.StartedAt.Unix())
	return platform.SafeFileName(tag, archiveNameMax)
}

func failureText(class download.FailureClass) string {
	switch class {
	case download.FailureBlocked:
		return "🚫 The source temporarily blocked automated access. Please try again later."
	case download.FailureContentUnavailable:
		return "😔 This content is not available for download."
	default:
		return "❌ Download failed. Please check the link and try again."
	}
}
