package media

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"podiumgo/internal/logger"
	"podiumgo/internal/metrics"
)

// Stages reported while a pipeline runs.
const (
	StageDownloading  = "downloading"
	StageExtracting   = "extracting"
	StageTranscribing = "transcribing"
)

// ProgressFunc receives stage changes. total is zero until the number of
// units is known.
type ProgressFunc func(stage string, done, total int)

type PipelineConfig struct {
	TempDir         string
	HTTPClient      *http.Client
	FetchAttempts   int
	FetchDelay      time.Duration
	MaxChunkBytes   int64
	MaxChunkSeconds int
}

// Pipeline chains the fetch, normalize, split and transcribe steps for
// recordings and the fetch and extract steps for decks.
type Pipeline struct {
	store         *Store
	fetcher       *Fetcher
	normalizer    *Normalizer
	splitter      *Splitter
	sequencer     *Sequencer
	extractor     *PageExtractor
	maxChunkBytes int64
	metrics       *metrics.Metrics
	log           *slog.Logger
}

func NewPipeline(cfg PipelineConfig, runner Runner, stt SpeechToText, m *metrics.Metrics, log *slog.Logger) (*Pipeline, error) {
	log = logger.OrNop(log)
	store, err := NewStore(cfg.TempDir, log)
	if err != nil {
		return nil, err
	}
	fetcher := NewFetcher(cfg.HTTPClient, cfg.FetchAttempts, cfg.FetchDelay, log)
	fetcher.OnRetry = func(int, int) { m.IncFetchRetries() }
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = DefaultMaxChunkBytes
	}
	return &Pipeline{
		store:         store,
		fetcher:       fetcher,
		normalizer:    NewNormalizer(runner),
		splitter:      NewSplitter(runner, cfg.MaxChunkSeconds),
		sequencer:     NewSequencer(stt),
		extractor:     NewPageExtractor(),
		maxChunkBytes: cfg.MaxChunkBytes,
		metrics:       m,
		log:           log,
	}, nil
}

func (p *Pipeline) Store() *Store { return p.store }

// NewScope opens a temp scope for one job.
func (p *Pipeline) NewScope() *Scope { return p.store.NewScope() }

// Transcript downloads a recording and returns its full transcript. Every
// scratch file lands in scope; the caller releases it.
func (p *Pipeline) Transcript(ctx context.Context, scope *Scope, remoteURL, fileName string, report ProgressFunc) (string, error) {
	report = orNoReport(report)
	report(StageDownloading, 0, 0)
	input, err := p.fetcher.Fetch(ctx, scope, remoteURL, fileName)
	if err != nil {
		return "", err
	}

	report(StageTranscribing, 0, 0)
	normalized, err := p.normalizer.Normalize(ctx, scope, input)
	if err != nil {
		return "", err
	}
	segments, err := p.splitter.Split(ctx, scope, normalized, p.maxChunkBytes)
	if err != nil {
		return "", err
	}
	p.log.Debug("audio split", "file", fileName, "segments", len(segments))
	report(StageTranscribing, 0, len(segments))

	start := time.Now()
	text, err := p.sequencer.Transcribe(ctx, segments, func(done, total int) {
		p.metrics.IncChunksTranscribed()
		report(StageTranscribing, done, total)
	})
	if err != nil {
		return "", err
	}
	p.metrics.ObserveTranscription(time.Since(start).Seconds())
	return text, nil
}

// Slides downloads a deck and returns its capped page texts.
func (p *Pipeline) Slides(ctx context.Context, scope *Scope, remoteURL, fileName string, report ProgressFunc) ([]SlidePage, error) {
	report = orNoReport(report)
	report(StageDownloading, 0, 0)
	doc, err := p.fetcher.Fetch(ctx, scope, remoteURL, fileName)
	if err != nil {
		return nil, err
	}
	report(StageExtracting, 0, 0)
	return p.extractor.ExtractPages(ctx, doc)
}

// TranscribeURL is Transcript with its own scope, released before return.
func (p *Pipeline) TranscribeURL(ctx context.Context, remoteURL, fileName string) (string, error) {
	scope := p.NewScope()
	defer scope.Release()
	return p.Transcript(ctx, scope, remoteURL, fileName, nil)
}

func orNoReport(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(string, int, int) {}
	}
	return fn
}
