package download

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tunegrab/tunegrab/internal/model"
	"github.com/tunegrab/tunegrab/internal/platform"
	"github.com/tunegrab/tunegrab/internal/progress"
)

// Direct YouTube runs carry real media payloads and get a far wider
// bound than the spotdl resolver.
const youtubePrimaryTimeout = 20 * time.Minute

// Result is the outcome of one job's full strategy run.
type Result struct {
	// Files are the media files present in the job's working directory.
	Files []string

	// Partial means the primary exited dirty but output exists; the
	// user is told some items were skipped rather than failed.
	Partial bool

	// Attempts records each strategy run for logging.
	Attempts []model.Attempt

	// Failure is only meaningful when Files is empty.
	Failure FailureClass
}

// Orchestrator produces output files for a job by running the primary
// strategy and escalating through the fallback chain. Success means at
// least one output file exists, not that every requested item arrived.
type Orchestrator struct {
	log            *zap.Logger
	tracker        *progress.Tracker
	run            commandRunner
	primaryTimeout time.Duration
}

// NewOrchestrator creates an orchestrator publishing into tracker.
// primaryTimeout bounds the spotdl resolver run.
func NewOrchestrator(log *zap.Logger, tracker *progress.Tracker, primaryTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		log:            log,
		tracker:        tracker,
		run:            runCommand,
		primaryTimeout: primaryTimeout,
	}
}

// Run executes the job's strategy sequence. knownTitle is the best title
// known before the run (may be empty); onCollection fires once if the
// tool announces a collection. The returned error is non-nil only for
// cancellation or a runner-level fault; retrieval failures are reported
// through Result.Failure.
func (o *Orchestrator) Run(ctx context.Context, job *model.DownloadJob, knownTitle string, onCollection func(name string, total int)) (Result, error) {
	var res Result
	log := o.log.With(zap.String("job", job.ID), zap.Int64("user", job.UserID))

	var (
		rescue        sync.WaitGroup
		rescueAttempt model.Attempt
		rescueRan     bool
	)

	var (
		primaryCode     int
		primaryTimedOut bool
		primaryFailure  FailureClass
		primaryErr      error
	)

	switch job.Source.Provider {
	case model.ProviderYouTube:
		parser := NewYtdlpParser(o.tracker, job.UserID)
		primaryCode, primaryTimedOut, primaryErr = o.runTool(ctx, youtubePrimaryTimeout, job.WorkDir,
			YtdlpCommand, youtubeArgs(job.Source.URL, job.WorkDir, job.Format), parser.HandleLine)
		primaryFailure = parser.Failure()

	default:
		parser := NewSpotdlParser(o.tracker, job.UserID, knownTitle, job.Source.URL, ParserHooks{
			OnCollection: onCollection,
			OnLookupMiss: func(term string) {
				// One silent rescue search; the primary keeps running.
				rescue.Add(1)
				rescueRan = true
				go func() {
					defer rescue.Done()
					rescueAttempt = o.runRescue(ctx, job, term)
				}()
			},
		})
		primaryCode, primaryTimedOut, primaryErr = o.runTool(ctx, o.primaryTimeout, job.WorkDir,
			SpotdlCommand, spotdlArgs(job.Source.URL, job.WorkDir), parser.HandleLine)
		primaryFailure = parser.Failure()
	}

	rescue.Wait()
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if primaryErr != nil {
		log.Warn("primary strategy could not run", zap.Error(primaryErr))
	}

	filesAfterPrimary := platform.ListMediaFiles(job.WorkDir)
	res.Attempts = append(res.Attempts, model.Attempt{
		StrategyID: "primary-" + string(job.Source.Provider),
		Timeout:    o.primaryTimeout,
		Outcome:    attemptOutcome(primaryTimedOut, len(filesAfterPrimary)),
	})
	if rescueRan {
		res.Attempts = append(res.Attempts, rescueAttempt)
	}

	clean := primaryCode == 0 && !primaryTimedOut && primaryErr == nil
	needFallback := primaryTimedOut || (!clean && len(filesAfterPrimary) == 0)

	if needFallback {
		title := knownTitle
		if title == "" {
			title = o.tracker.CollectionName(job.UserID)
		}
		if title == "" {
			title = job.Source.URL
		}

		fb := NewYtdlpParser(o.tracker, job.UserID)
		for _, st := range FallbackChain() {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			// Any output produced so far ends the chain.
			if platform.CountMediaFiles(job.WorkDir) > 0 {
				res.Attempts = append(res.Attempts, model.Attempt{
					StrategyID: st.ID, Timeout: st.Timeout, Outcome: model.OutcomeSkipped,
				})
				continue
			}

			term := st.Transform(title)
			log.Info("running fallback strategy", zap.String("strategy", st.ID), zap.String("term", term))
			o.tracker.SetLabel(job.UserID, "Searching on YouTube...")

			code, timedOut, err := o.runTool(ctx, st.Timeout, job.WorkDir,
				YtdlpCommand, searchArgs(st, term, job.WorkDir), fb.HandleLine)
			if err != nil {
				log.Warn("fallback strategy could not run", zap.String("strategy", st.ID), zap.Error(err))
			} else if code != 0 {
				log.Debug("fallback strategy exited dirty", zap.String("strategy", st.ID), zap.Int("exit", code))
			}
			res.Attempts = append(res.Attempts, model.Attempt{
				StrategyID: st.ID,
				Timeout:    st.Timeout,
				Outcome:    attemptOutcome(timedOut, platform.CountMediaFiles(job.WorkDir)),
			})
		}
		primaryFailure = worse(primaryFailure, fb.Failure())
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	res.Files = platform.ListMediaFiles(job.WorkDir)
	if len(res.Files) == 0 {
		res.Failure = primaryFailure
		if res.Failure == FailureNone || res.Failure == FailureLookupMiss {
			res.Failure = FailureOther
		}
		log.Warn("all strategies exhausted with no output",
			zap.Int("attempts", len(res.Attempts)), zap.Int("failureClass", int(res.Failure)))
		return res, nil
	}

	res.Partial = !clean
	o.tracker.Complete(job.UserID)
	log.Info("retrieval finished",
		zap.Int("files", len(res.Files)), zap.Bool("partial", res.Partial))
	return res, nil
}

// runRescue performs the single lookup-miss search.
func (o *Orchestrator) runRescue(ctx context.Context, job *model.DownloadJob, term string) model.Attempt {
	st := rescueStrategy()
	o.log.Info("running lookup-miss rescue",
		zap.String("job", job.ID), zap.String("term", term))

	parser := NewYtdlpParser(o.tracker, job.UserID)
	code, timedOut, err := o.runTool(ctx, st.Timeout, job.WorkDir,
		YtdlpCommand, searchArgs(st, term, job.WorkDir), parser.HandleLine)
	if err != nil || code != 0 {
		o.log.Debug("rescue exited dirty",
			zap.String("job", job.ID), zap.Int("exit", code), zap.Error(err))
	}

	return model.Attempt{
		StrategyID: st.ID,
		Timeout:    st.Timeout,
		Outcome:    attemptOutcome(timedOut, platform.CountMediaFiles(job.WorkDir)),
	}
}

// runTool runs one tool invocation under its own wall-clock bound.
func (o *Orchestrator) runTool(ctx context.Context, timeout time.Duration, dir, name string, args []string, onLine func(string)) (code int, timedOut bool, err error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, err = o.run(tctx, dir, name, args, onLine)
	timedOut = tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil
	return code, timedOut, err
}

func attemptOutcome(timedOut bool, files int) model.AttemptOutcome {
	switch {
	case timedOut:
		return model.OutcomeTimedOut
	case files > 0:
		return model.OutcomeProducedFile
	default:
		return model.OutcomeToolError
	}
}
