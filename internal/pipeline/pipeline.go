package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meetscribe/internal/intake"
	"meetscribe/internal/logging"
	"meetscribe/internal/metrics"
	"meetscribe/internal/models"
	"meetscribe/internal/results"
	"meetscribe/internal/service/summarize"
	"meetscribe/internal/service/transcribe"

	"github.com/google/uuid"
)

// AudioStore persists uploads for the length of one run.
type AudioStore interface {
	Store(ctx context.Context, src intake.Source) (*models.UploadedAudio, error)
	Release(audio *models.UploadedAudio) error
}

// RunRecorder receives one ledger entry per run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.PipelineRun) error
}

// Result describes a successful run.
type Result struct {
	ID       string
	FileName string
	Summary  *models.StructuredSummary
	States   []State
	Duration time.Duration
}

type Config struct {
	Audio          AudioStore
	Transcriber    transcribe.Transcriber
	Summarizer     summarize.Summarizer
	Results        results.Store
	Ledger         RunRecorder
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
	ResultTTL      time.Duration
}

// Pipeline drives one upload through storage, transcription and
// summarization. Runs share nothing but the configured collaborators.
type Pipeline struct {
	audio       AudioStore
	transcriber transcribe.Transcriber
	summarizer  summarize.Summarizer
	results     results.Store
	ledger      RunRecorder
	metrics     *metrics.Metrics
	timeout     time.Duration
	resultTTL   time.Duration
	now         func() time.Time
}

func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Audio == nil:
		return nil, errors.New("audio store is required")
	case cfg.Transcriber == nil:
		return nil, errors.New("transcriber is required")
	case cfg.Summarizer == nil:
		return nil, errors.New("summarizer is required")
	case cfg.Results == nil:
		return nil, errors.New("result store is required")
	}
	p := &Pipeline{
		audio:       cfg.Audio,
		transcriber: cfg.Transcriber,
		summarizer:  cfg.Summarizer,
		results:     cfg.Results,
		ledger:      cfg.Ledger,
		metrics:     cfg.Metrics,
		timeout:     cfg.RequestTimeout,
		resultTTL:   cfg.ResultTTL,
		now:         time.Now,
	}
	if p.timeout <= 0 {
		p.timeout = 15 * time.Minute
	}
	if p.resultTTL <= 0 {
		p.resultTTL = time.Hour
	}
	return p, nil
}

// run tracks the state of a single invocation.
type run struct {
	id       string
	fileName string
	state    State
	visited  []State
	entered  time.Time
	started  time.Time
}

func (r *run) advance(p *Pipeline, to State) {
	if !CanTransition(r.state, to) {
		panic(fmt.Sprintf("pipeline: invalid transition %s -> %s", r.state, to))
	}
	now := p.now()
	p.metrics.ObserveStage(string(r.state), now.Sub(r.entered))
	r.state = to
	r.entered = now
	r.visited = append(r.visited, to)
}

func (r *run) fail(err error) error {
	return &models.StageError{Stage: string(r.state), Err: err}
}

// Run processes src to completion. The stored audio is released on every
// exit path, panics included. Errors are *models.StageError values
// wrapping the shared error kinds.
func (p *Pipeline) Run(ctx context.Context, src intake.Source) (res *Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	r := &run{id: uuid.NewString(), state: StateReceived, visited: []State{StateReceived}, entered: start, started: start}
	if src != nil {
		r.fileName = src.Name()
	}
	log := logging.Named("pipeline").With("run_id", r.id, "file", r.fileName)
	p.metrics.RunStarted()

	defer func() { p.finish(r, err) }()
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("pipeline panic", "stage", r.state, "panic", rec)
			res = nil
			err = r.fail(fmt.Errorf("internal error: %v", rec))
		}
	}()

	audio, err := p.audio.Store(ctx, src)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidUpload) && !errors.Is(err, models.ErrStorage) {
			err = fmt.Errorf("%w: %v", models.ErrStorage, err)
		}
		return nil, r.fail(err)
	}
	defer func() {
		if relErr := p.audio.Release(audio); relErr != nil {
			// the sweeper removes it later; the run outcome stands
			log.Errorw("release audio failed", "path", audio.StoredPath, "error", relErr)
		}
	}()
	r.advance(p, StateStored)
	log.Debugw("audio stored", "bytes", audio.Size, "mime", audio.MimeType, "duration", audio.Duration)

	r.advance(p, StateTranscribing)
	transcript, err := p.transcriber.Transcribe(ctx, audio.StoredPath)
	if err != nil {
		if !errors.Is(err, models.ErrTranscription) {
			err = fmt.Errorf("%w: %v", models.ErrTranscription, err)
		}
		return nil, r.fail(err)
	}
	r.advance(p, StateTranscribed)

	r.advance(p, StateSummarizing)
	sum, err := p.summarizer.Summarize(ctx, transcript)
	if err != nil {
		if !errors.Is(err, models.ErrSummarizationNetwork) &&
			!errors.Is(err, models.ErrSummarizationAuth) &&
			!errors.Is(err, models.ErrMalformedOutput) {
			err = fmt.Errorf("%w: %v", models.ErrSummarizationNetwork, err)
		}
		return nil, r.fail(err)
	}
	if sum == nil {
		return nil, r.fail(fmt.Errorf("%w: empty result", models.ErrMalformedOutput))
	}
	r.advance(p, StateSummarized)

	created := p.now()
	stored := &models.SummaryResult{
		ID:        r.id,
		FileName:  r.fileName,
		Summary:   *sum.Clone(),
		CreatedAt: created,
		ExpiresAt: created.Add(p.resultTTL),
	}
	if err := p.results.Save(ctx, stored); err != nil {
		return nil, r.fail(fmt.Errorf("%w: %v", models.ErrResultStore, err))
	}
	r.advance(p, StateRendered)

	return &Result{
		ID:       r.id,
		FileName: r.fileName,
		Summary:  sum,
		States:   append([]State(nil), r.visited...),
		Duration: p.now().Sub(start),
	}, nil
}

func (p *Pipeline) finish(r *run, err error) {
	elapsed := p.now().Sub(r.started)
	entry := &models.PipelineRun{
		ID:         r.id,
		FileName:   r.fileName,
		State:      string(r.state),
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  r.started,
	}
	log := logging.Named("pipeline").With("run_id", r.id, "file", r.fileName)
	if err != nil {
		var stageErr *models.StageError
		stage := string(r.state)
		if errors.As(err, &stageErr) {
			stage = stageErr.Stage
		}
		entry.State = string(StateFailed)
		entry.FailedStage = stage
		entry.ErrorKind = models.Kind(err)
		entry.Error = err.Error()
		log.Errorw("pipeline run failed", "stage", stage, "kind", entry.ErrorKind, "error", err, "elapsed", elapsed)
		p.metrics.RunFinished(stage, entry.ErrorKind)
	} else {
		log.Infow("pipeline run finished", "elapsed", elapsed)
		p.metrics.RunFinished("", "")
	}

	if p.ledger == nil {
		return
	}
	// the request context may already be gone
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if lerr := p.ledger.RecordRun(ctx, entry); lerr != nil {
		log.Warnw("record run failed", "error", lerr)
	}
}
