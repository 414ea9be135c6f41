package attribution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/factorrun/internal/dataset"
)

// Pipeline stage names, also used as metric labels
const (
	StageValidate  = "validate"
	StageDesign    = "design"
	StageFit       = "fit"
	StageDecompose = "decompose"
	StageCompare   = "compare"
	StageSummarize = "summarize"
)

// Options configures one Engine
type Options struct {
	// Factors is the expected factor column set; empty accepts any set
	Factors                 []string
	MaxDuration             time.Duration
	ReconstructionTolerance float64
	Fitter                  FitterConfig
	Comparator              ComparatorConfig
	Summarizer              SummarizerConfig
}

// DefaultOptions returns the production engine settings
func DefaultOptions() Options {
	return Options{
		ReconstructionTolerance: 1e-9,
		Fitter:                  DefaultFitterConfig(),
		Comparator:              DefaultComparatorConfig(),
		Summarizer:              SummarizerConfig{TopK: 3},
	}
}

// Observer receives stage timings and run outcomes, e.g. for metrics
type Observer interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
	ObserveRun(result *Result, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration, error) {}
func (nopObserver) ObserveRun(*Result, error)                 {}

// Result is everything one attribution pass produced
type Result struct {
	RunID         string             `json:"run_id"`
	Fingerprint   string             `json:"fingerprint"`
	StartedAt     time.Time          `json:"started_at"`
	Elapsed       time.Duration      `json:"elapsed_ns"`
	Model         *FittedModel       `json:"model"`
	Contributions *ContributionTable `json:"contributions"`
	Summary       Summary            `json:"summary"`
	Design        *DesignMatrix      `json:"-"`
}

// Engine runs fit → decompose → summarize with the comparator alongside
type Engine struct {
	opts       Options
	fitter     *Fitter
	comparator *Comparator
	summarizer *Summarizer
	observer   Observer
	configKey  string
}

// NewEngine creates an engine. observer may be nil.
func NewEngine(opts Options, observer Observer) *Engine {
	if opts.ReconstructionTolerance <= 0 {
		opts.ReconstructionTolerance = 1e-9
	}
	if observer == nil {
		observer = nopObserver{}
	}
	e := &Engine{
		opts:       opts,
		fitter:     NewFitter(opts.Fitter),
		summarizer: NewSummarizer(opts.Summarizer),
		observer:   observer,
		configKey:  optionsKey(opts),
	}
	if opts.Comparator.Enabled {
		e.comparator = NewComparator(opts.Comparator)
	}
	return e
}

// ConfigKey is a short digest of every option that changes a result. Two
// engines with equal keys produce the same output for the same dataset.
func (e *Engine) ConfigKey() string {
	return e.configKey
}

func optionsKey(opts Options) string {
	// MaxDuration only bounds a run, it never changes the output
	payload, err := json.Marshal(struct {
		Factors                 []string
		ReconstructionTolerance float64
		Fitter                  FitterConfig
		Comparator              ComparatorConfig
		Summarizer              SummarizerConfig
	}{opts.Factors, opts.ReconstructionTolerance, opts.Fitter, opts.Comparator, opts.Summarizer})
	if err != nil {
		payload = []byte(fmt.Sprintf("%+v", opts))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

// Run attributes one dataset. Fatal errors (*ShapeMismatchError,
// *SingularMatrixError) are returned unchanged and no result is produced.
func (e *Engine) Run(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	res, err := e.run(ctx, ds)
	e.observer.ObserveRun(res, err)
	return res, err
}

func (e *Engine) run(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := log.With().Str("run_id", res.RunID).Logger()

	// Cancelling on return stops a comparator left behind by a fatal error
	var cancel context.CancelFunc
	if e.opts.MaxDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.opts.MaxDuration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if err := e.stage(StageValidate, func() error { return ds.Validate(e.opts.Factors) }); err != nil {
		return nil, err
	}
	res.Fingerprint = ds.Fingerprint()

	var dm *DesignMatrix
	if err := e.stage(StageDesign, func() (err error) {
		dm, err = NewDesignMatrix(ds)
		return err
	}); err != nil {
		return nil, err
	}
	res.Design = dm

	logger.Debug().Int("rows", dm.Rows()).Strs("factors", dm.Factors()).Msg("Design matrix built")

	// The comparator works on its own copies and only feeds the narrative
	var comparisons chan Comparison
	if e.comparator != nil {
		comparisons = make(chan Comparison, 1)
		factors, response := ds.FactorRows(), append([]float64(nil), ds.Returns...)
		go func() {
			start := time.Now()
			c := e.compare(ctx, factors, response)
			e.observer.ObserveStage(StageCompare, time.Since(start), nil)
			comparisons <- c
		}()
	}

	if err := e.stage(StageFit, func() (err error) {
		res.Model, err = e.fitter.Fit(dm, ds.Returns)
		return err
	}); err != nil {
		return nil, err
	}

	diag := res.Model.diagnostics
	logger.Info().
		Int("observations", diag.Observations).
		Float64("r2", diag.RSquared).
		Float64("adj_r2", diag.AdjRSquared).
		Strs("aliased", diag.Aliased).
		Msg("OLS fit complete")

	if err := e.stage(StageDecompose, func() (err error) {
		res.Contributions, err = Decompose(dm, res.Model)
		if err != nil {
			return err
		}
		predicted, err := res.Model.Predict(dm)
		if err != nil {
			return err
		}
		return res.Contributions.Verify(predicted, e.opts.ReconstructionTolerance)
	}); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("attribution aborted: %w", err)
	}

	var comparison *Comparison
	if comparisons != nil {
		select {
		case c := <-comparisons:
			comparison = &c
		case <-ctx.Done():
			reason := "comparator did not finish: " + ctx.Err().Error()
			comparison = &Comparison{
				Ridge: unavailable(ModelRidge, reason),
				Lasso: unavailable(ModelLasso, reason),
			}
			logger.Warn().Err(ctx.Err()).Msg("Comparator abandoned")
		}
	}

	_ = e.stage(StageSummarize, func() error {
		res.Summary = e.summarizer.Summarize(res.Contributions, comparison)
		return nil
	})

	res.Elapsed = time.Since(res.StartedAt)
	logger.Info().
		Float64("total_explained", res.Summary.TotalExplained).
		Dur("elapsed", res.Elapsed).
		Msg("Attribution complete")

	return res, nil
}

// compare shields the pipeline from comparator panics
func (e *Engine) compare(ctx context.Context, factors [][]float64, response []float64) (result Comparison) {
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic: %v", r)
			result = Comparison{
				Ridge: unavailable(ModelRidge, reason),
				Lasso: unavailable(ModelLasso, reason),
			}
			log.Error().Interface("panic", r).Msg("Comparator panicked")
		}
	}()
	return e.comparator.Compare(ctx, factors, response)
}

func (e *Engine) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	e.observer.ObserveStage(name, time.Since(start), err)
	if err != nil {
		log.Error().Err(err).Str("stage", name).Msg("Attribution stage failed")
	}
	return err
}
