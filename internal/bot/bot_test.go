package bot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tunegrab/tunegrab/internal/config"
	"github.com/tunegrab/tunegrab/internal/download"
	"github.com/tunegrab/tunegrab/internal/metadata"
	"github.com/tunegrab/tunegrab/internal/model"
	"github.com/tunegrab/tunegrab/internal/progress"
	"github.com/tunegrab/tunegrab/internal/session"
	"github.com/tunegrab/tunegrab/internal/telegram"
)

type fakeAPI struct {
	mu            sync.Mutex
	texts         []string
	edits         []string
	buttonTexts   []string
	buttons       [][][]telegram.Button
	sentFiles     []string
	captions      []string
	answers       []string
	nextMessageID int
}

func (f *fakeAPI) GetUpdates(context.Context, int64, int) ([]telegram.Update, error) {
	return nil, nil
}

func (f *fakeAPI) SendText(_ context.Context, _ int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.nextMessageID++
	return f.nextMessageID, nil
}

func (f *fakeAPI) SendButtons(_ context.Context, _ int64, text string, rows [][]telegram.Button) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buttonTexts = append(f.buttonTexts, text)
	f.buttons = append(f.buttons, rows)
	f.nextMessageID++
	return f.nextMessageID, nil
}

func (f *fakeAPI) EditText(_ context.Context, _ int64, _ int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAPI) EditButtons(_ context.Context, _ int64, _ int, text string, rows [][]telegram.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buttonTexts = append(f.buttonTexts, text)
	f.buttons = append(f.buttons, rows)
	return nil
}

func (f *fakeAPI) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAPI) SendFile(_ context.Context, _ int64, path, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentFiles = append(f.sentFiles, path)
	f.captions = append(f.captions, caption)
	return nil
}

func (f *fakeAPI) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

type fakeRetriever struct {
	mu   sync.Mutex
	jobs []*model.DownloadJob
	run  func(ctx context.Context, job *model.DownloadJob) (download.Result, error)
}

func (f *fakeRetriever) Run(ctx context.Context, job *model.DownloadJob, _ string, _ func(string, int)) (download.Result, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.run == nil {
		return download.Result{}, nil
	}
	return f.run(ctx, job)
}

type fakeProber struct {
	heights []int
	title   string
	term    string
}

func (f *fakeProber) Resolutions(context.Context, string) ([]int, error) { return f.heights, nil }
func (f *fakeProber) Title(context.Context, string) (string, error)      { return f.title, nil }
func (f *fakeProber) TrackTerm(context.Context, string) (string, error)  { return f.term, nil }

type fakeUploader struct {
	mu    sync.Mutex
	paths []string
	link  string
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, path string, onProgress func(int, string)) (string, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	if onProgress != nil {
		onProgress(0, "Finding best upload server...")
		onProgress(100, "Uploading to store1...")
	}
	return f.link, f.err
}

// archiverFunc writes a zip-sized placeholder at dest.
type archiverFunc func(ctx context.Context, files []string, dest, password string) error

func (f archiverFunc) Pack(ctx context.Context, files []string, dest, password string) error {
	return f(ctx, files, dest, password)
}

type testBot struct {
	bot       *Bot
	api       *fakeAPI
	retriever *fakeRetriever
	uploader  *fakeUploader
	prober    *fakeProber
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: "t", LongPollSeconds: 1},
		Download: config.DownloadConfig{
			WorkRoot:         t.TempDir(),
			SizeThresholdMiB: 50,
			PrimaryTimeout:   time.Minute,
			PollInterval:     10 * time.Millisecond,
			PublishInterval:  time.Hour,
			RecountInterval:  time.Hour,
		},
	}
	api := &fakeAPI{}
	retr := &fakeRetriever{}
	up := &fakeUploader{link: "https://gofile.io/d/abc123"}
	pr := &fakeProber{}

	tracker := progress.NewTracker(cfg.Download.PublishInterval)
	b := &Bot{
		cfg:       cfg,
		log:       zap.NewNop(),
		api:       api,
		sessions:  session.NewRegistry(),
		tracker:   tracker,
		retriever: retr,
		probe:     pr,
		uploader:  up,
		newArchiver: func(func(done, total int)) archiver {
			return archiverFunc(func(_ context.Context, _ []string, dest, _ string) error {
				return os.WriteFile(dest, []byte("zip"), 0o644)
			})
		},
		yt:        metadata.NewYouTubeClient(""),
		playlists: metadata.NewPlaylistProbe(),
		jobs:      newJobRegistry(),
	}
	tracker.SetPublishFunc(b.publishProgress)
	return &testBot{bot: b, api: api, retriever: retr, uploader: up, prober: pr}
}

func testMessage(userID, chatID int64, text string) *telegram.Message {
	return &telegram.Message{
		MessageID: 1,
		Chat:      telegram.Chat{ID: chatID},
		From:      &telegram.User{ID: userID},
		Text:      text,
	}
}

func callback(userID int64, data string) *telegram.CallbackQuery {
	return &telegram.CallbackQuery{
		ID:      "cb1",
		From:    telegram.User{ID: userID},
		Data:    data,
		Message: &telegram.Message{MessageID: 5, Chat: telegram.Chat{ID: 100}},
	}
}

func writeSized(t *testing.T, dir, name string, size int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	return path
}

func TestUnrecognizedMessageGetsHint(t *testing.T) {
	tb := newTestBot(t)
	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "hello there"))

	require.Len(t, tb.api.texts, 1)
	assert.Contains(t, tb.api.texts[0], "did not recognize")
	assert.Empty(t, tb.retriever.jobs)
}

func TestSpotifyTrackDownloadsAndSendsDirect(t *testing.T) {
	tb := newTestBot(t)
	tb.retriever.run = func(_ context.Context, job *model.DownloadJob) (download.Result, error) {
		path := writeSized(t, job.WorkDir, "Artist - Song.mp3", 5<<20)
		return download.Result{Files: []string{path}}, nil
	}

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/track/abc123"))
	tb.bot.wg.Wait()

	require.Len(t, tb.retriever.jobs, 1)
	job := tb.retriever.jobs[0]
	assert.Equal(t, model.ProviderSpotify, job.Source.Provider)
	assert.True(t, job.Format.Audio)
	assert.Equal(t, "mp3", job.Format.Codec)

	require.Len(t, tb.api.sentFiles, 1)
	assert.Contains(t, tb.api.sentFiles[0], "Artist - Song.mp3")
	assert.Contains(t, tb.api.lastEdit(), "Done")
}

func TestOversizedSingleFileIsArchived(t *testing.T) {
	tb := newTestBot(t)
	tb.retriever.run = func(_ context.Context, job *model.DownloadJob) (download.Result, error) {
		path := writeSized(t, job.WorkDir, "Long Video.mp4", 60<<20)
		return download.Result{Files: []string{path}}, nil
	}

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/track/abc123"))
	tb.bot.wg.Wait()

	// Archives never go to the chat directly, whatever their size. The
	// link and password arrive in the same final message.
	require.Len(t, tb.uploader.paths, 1)
	assert.Contains(t, tb.uploader.paths[0], "Long_Video.zip")
	assert.Empty(t, tb.api.sentFiles)
	final := tb.api.lastEdit()
	assert.Contains(t, final, "https://gofile.io/d/abc123")
	assert.Contains(t, final, "Password")
}

func TestCollectionAlwaysArchived(t *testing.T) {
	tb := newTestBot(t)
	tb.retriever.run = func(_ context.Context, job *model.DownloadJob) (download.Result, error) {
		// A playlist that ended up with a single small file still ships as
		// an archive.
		path := writeSized(t, job.WorkDir, "only.mp3", 1<<20)
		return download.Result{Files: []string{path}}, nil
	}

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/playlist/xyz789"))
	tb.bot.wg.Wait()

	require.Len(t, tb.uploader.paths, 1)
	assert.Contains(t, tb.uploader.paths[0], ".zip")
	assert.Empty(t, tb.api.sentFiles)
	final := tb.api.lastEdit()
	assert.Contains(t, final, "https://gofile.io/d/abc123")
	assert.Contains(t, final, "Password")
}

func TestLargeArchiveIsUploaded(t *testing.T) {
	tb := newTestBot(t)
	tb.bot.newArchiver = func(func(done, total int)) archiver {
		return archiverFunc(func(_ context.Context, _ []string, dest, _ string) error {
			f, err := os.Create(dest)
			if err != nil {
				return err
			}
			if err := f.Truncate(60 << 20); err != nil {
				return err
			}
			return f.Close()
		})
	}
	tb.retriever.run = func(_ context.Context, job *model.DownloadJob) (download.Result, error) {
		var files []string
		for _, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
			files = append(files, writeSized(t, job.WorkDir, name, 25<<20))
		}
		return download.Result{Files: files}, nil
	}

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/album/def456"))
	tb.bot.wg.Wait()

	require.Len(t, tb.uploader.paths, 1)
	assert.Empty(t, tb.api.sentFiles)
	final := tb.api.lastEdit()
	assert.Contains(t, final, "https://gofile.io/d/abc123")
	assert.Contains(t, final, "Password")
}

func TestFailureClassDrivesFinalMessage(t *testing.T) {
	tb := newTestBot(t)
	tb.retriever.run = func(context.Context, *model.DownloadJob) (download.Result, error) {
		return download.Result{Failure: download.FailureBlocked}, nil
	}

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/track/abc123"))
	tb.bot.wg.Wait()

	assert.Contains(t, tb.api.lastEdit(), "blocked")
	assert.Empty(t, tb.api.sentFiles)
}

func TestSecondLinkWhileJobActiveIsRejected(t *testing.T) {
	tb := newTestBot(t)
	release := make(chan struct{})
	tb.retriever.run = func(ctx context.Context, _ *model.DownloadJob) (download.Result, error) {
		<-release
		return download.Result{}, ctx.Err()
	}

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/track/abc123"))
	require.Eventually(t, func() bool {
		tb.retriever.mu.Lock()
		defer tb.retriever.mu.Unlock()
		return len(tb.retriever.jobs) == 1
	}, time.Second, 5*time.Millisecond)

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/track/other99"))
	tb.api.mu.Lock()
	rejected := tb.api.texts[len(tb.api.texts)-1]
	tb.api.mu.Unlock()
	assert.Contains(t, rejected, "already have an active download")

	close(release)
	tb.bot.wg.Wait()
	assert.Len(t, tb.retriever.jobs, 1)
}

func TestStopCancelsActiveJob(t *testing.T) {
	tb := newTestBot(t)
	tb.retriever.run = func(ctx context.Context, _ *model.DownloadJob) (download.Result, error) {
		<-ctx.Done()
		return download.Result{}, ctx.Err()
	}

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/track/abc123"))
	require.Eventually(t, func() bool {
		tb.retriever.mu.Lock()
		defer tb.retriever.mu.Unlock()
		return len(tb.retriever.jobs) == 1
	}, time.Second, 5*time.Millisecond)

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "/stop"))
	tb.bot.wg.Wait()

	assert.Contains(t, tb.api.lastEdit(), "cancelled")
}

func TestStopFreesSlotBeforeOldJobWindsDown(t *testing.T) {
	tb := newTestBot(t)
	oldJobDone := make(chan struct{})
	tb.retriever.run = func(ctx context.Context, job *model.DownloadJob) (download.Result, error) {
		if job.Source.ID == "abc123" {
			<-ctx.Done()
			// Hold the goroutine open past the cancel, like cleanup and
			// the final message edit do.
			<-oldJobDone
			return download.Result{}, ctx.Err()
		}
		return download.Result{}, nil
	}

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/track/abc123"))
	require.Eventually(t, func() bool {
		tb.retriever.mu.Lock()
		defer tb.retriever.mu.Unlock()
		return len(tb.retriever.jobs) == 1
	}, time.Second, 5*time.Millisecond)

	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "/stop"))

	// The slot is free the moment /stop lands, so the next link starts a
	// job even though the cancelled one has not finished yet.
	tb.bot.handleMessage(context.Background(), testMessage(7, 100, "https://open.spotify.com/track/other99"))
	require.Eventually(t, func() bool {
		tb.retriever.mu.Lock()
		defer tb.retriever.mu.Unlock()
		return len(tb.retriever.jobs) == 2
	}, time.Second, 5*time.Millisecond)
	tb.api.mu.Lock()
	texts := append([]string(nil), tb.api.texts...)
	tb.api.mu.Unlock()
	for _, text := range texts {
		assert.NotContains(t, text, "already have an active download")
	}

	close(oldJobDone)
	tb.bot.wg.Wait()
}
