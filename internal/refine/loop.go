package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/contextmgr"
	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// ErrNoController is returned when a loop has nothing to drive it.
var ErrNoController = errors.New("refine: controller required")

// State is the loop's position in its lifecycle.
type State int

// States. A loop starts in StateInit, runs in StateIterating and ends in
// StateFinalized or StateAborted.
const (
	StateInit State = iota
	StateIterating
	StateFinalized
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIterating:
		return "iterating"
	case StateFinalized:
		return "finalized"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reasons a loop ended.
const (
	ReasonSubmitted     = "submitted"
	ReasonMaxIterations = "max_iterations"
	ReasonBadCalls      = "bad_calls"
	ReasonWallClock     = "wall_clock"
	ReasonCanceled      = "canceled"
)

// Loop defaults.
const (
	DefaultMaxIterations     = 40
	DefaultMaxBadCalls       = 3
	DefaultControllerRetries = 2
	DefaultRetryBackoff      = time.Second
	DefaultCallTimeout       = 2 * time.Minute
	DefaultWallClock         = 20 * time.Minute
	DefaultMaxViewLines      = 400
	DefaultMaxSearchResults  = 50
	DefaultRankedPreview     = 20
)

// DefaultExcludedPaths are never part of a final selection.
var DefaultExcludedPaths = []string{"repoctx.yaml"}

// Config bounds a refinement loop.
type Config struct {
	MaxIterations     int
	MaxBadCalls       int
	ControllerRetries int
	RetryBackoff      time.Duration
	// CallTimeout bounds one controller call. Zero disables it.
	CallTimeout time.Duration
	// WallClock bounds the whole loop. Zero disables it.
	WallClock time.Duration
	// ExcludedPaths are dropped from the selection after the loop.
	ExcludedPaths    []string
	MinConfidence    float64
	MaxViewLines     int
	MaxSearchResults int
	RankedPreview    int
}

// DefaultConfig returns the default loop settings.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     DefaultMaxIterations,
		MaxBadCalls:       DefaultMaxBadCalls,
		ControllerRetries: DefaultControllerRetries,
		RetryBackoff:      DefaultRetryBackoff,
		CallTimeout:       DefaultCallTimeout,
		WallClock:         DefaultWallClock,
		ExcludedPaths:     append([]string(nil), DefaultExcludedPaths...),
		MinConfidence:     DefaultMinConfidence,
		MaxViewLines:      DefaultMaxViewLines,
		MaxSearchResults:  DefaultMaxSearchResults,
		RankedPreview:     DefaultRankedPreview,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxBadCalls <= 0 {
		c.MaxBadCalls = d.MaxBadCalls
	}
	if c.ControllerRetries < 0 {
		c.ControllerRetries = 0
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	return c
}

// Result is the outcome of a loop. Snippets holds the selection at the
// time the loop ended, whatever the state.
type Result struct {
	State      State
	Reason     string
	Iterations int
	BadCalls   int
	Snippets   []snippet.Snippet
	Transcript []Message
	Duration   time.Duration
}

// Loop drives a controller over a context manager until it submits or a
// limit is hit.
type Loop struct {
	controller Controller
	searcher   Searcher
	cfg        Config
	logger     *zap.Logger
}

// NewLoop creates a Loop. searcher may be nil, which disables
// search_codebase.
func NewLoop(controller Controller, searcher Searcher, cfg Config, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{controller: controller, searcher: searcher, cfg: cfg.withDefaults(), logger: logger}
}

// Run clears mgr's selection and lets the controller rebuild it. The
// returned Result always carries the selection reached, including when the
// loop aborts; an error is returned only for missing arguments.
func (l *Loop) Run(ctx context.Context, mgr *contextmgr.Manager) (*Result, error) {
	if l.controller == nil {
		return nil, ErrNoController
	}
	if mgr == nil {
		return nil, errors.New("refine: context manager required")
	}

	start := time.Now()
	runCtx := ctx
	if l.cfg.WallClock > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.cfg.WallClock)
		defer cancel()
	}

	res := &Result{State: StateInit}
	mgr.SetTopSnippets(nil)
	transcript := []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: initialPrompt(mgr, l.cfg.RankedPreview)},
	}
	res.State = StateIterating

	for res.State == StateIterating && res.Iterations < l.cfg.MaxIterations {
		res.Iterations++
		logger := l.logger.With(zap.Int("iteration", res.Iterations))

		raw, err := l.propose(runCtx, transcript)
		if err != nil {
			if runCtx.Err() != nil {
				res.State, res.Reason = StateAborted, ReasonWallClock
				if ctx.Err() != nil {
					res.Reason = ReasonCanceled
				}
				break
			}
			res.BadCalls++
			logger.Warn("controller call failed", zap.Error(err), zap.Int("bad_calls", res.BadCalls))
			transcript = append(transcript, Message{
				Role:    RoleUser,
				Content: "The previous request failed. Reply with tool calls.\n\n" + SyntaxHelp,
			})
			l.checkBadCalls(res)
			continue
		}
		transcript = append(transcript, Message{Role: RoleController, Content: raw})

		calls, perrs := Parse(raw)
		if len(calls) == 0 {
			res.BadCalls++
			logger.Warn("no valid tool calls", zap.Int("parse_errors", len(perrs)), zap.Int("bad_calls", res.BadCalls))
			transcript = append(transcript, Message{Role: RoleUser, Content: syntaxFeedback(perrs)})
			l.checkBadCalls(res)
			continue
		}

		var out strings.Builder
		for _, call := range calls {
			if _, ok := call.(Submit); ok {
				res.State, res.Reason = StateFinalized, ReasonSubmitted
				ToolCalls.WithLabelValues(call.Tool(), "ok").Inc()
				break
			}
			text, err := l.execute(runCtx, mgr, call)
			result := "ok"
			if err != nil {
				result = "error"
				text = "error: " + err.Error()
			}
			ToolCalls.WithLabelValues(call.Tool(), result).Inc()
			logger.Debug("tool call", zap.String("call", call.String()), zap.String("result", result))
			fmt.Fprintf(&out, "<result call=%q>\n%s\n</result>\n", call.String(), strings.TrimRight(text, "\n"))
		}
		if res.State == StateFinalized {
			break
		}
		for _, e := range perrs {
			fmt.Fprintf(&out, "<result call=\"invalid\">\nerror: %s\n</result>\n", e.Reason)
		}
		out.WriteString("\n")
		out.WriteString(mgr.Summary())
		transcript = append(transcript, Message{Role: RoleUser, Content: out.String()})
	}

	if res.State == StateIterating {
		res.State, res.Reason = StateAborted, ReasonMaxIterations
	}

	l.DropExcluded(mgr)
	res.Snippets = mgr.TopSnippets()
	res.Transcript = transcript
	res.Duration = time.Since(start)

	LoopOutcomes.WithLabelValues(res.State.String(), res.Reason).Inc()
	LoopIterations.Observe(float64(res.Iterations))
	l.logger.Info("refinement finished",
		zap.Stringer("state", res.State),
		zap.String("reason", res.Reason),
		zap.Int("iterations", res.Iterations),
		zap.Int("bad_calls", res.BadCalls),
		zap.Int("snippets", len(res.Snippets)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (l *Loop) checkBadCalls(res *Result) {
	if res.BadCalls >= l.cfg.MaxBadCalls {
		res.State, res.Reason = StateAborted, ReasonBadCalls
	}
}

// propose calls the controller, retrying failures with exponential
// backoff. An attempt that exceeds CallTimeout fails the round without
// further retries.
func (l *Loop) propose(ctx context.Context, transcript []Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.ControllerRetries; attempt++ {
		if attempt > 0 {
			backoff := l.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if l.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, l.cfg.CallTimeout)
		}
		raw, err := l.controller.Propose(callCtx, transcript)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if timedOut {
			return "", fmt.Errorf("controller call timed out after %s: %w", l.cfg.CallTimeout, err)
		}
		l.logger.Debug("controller attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", fmt.Errorf("controller failed after %d attempts: %w", l.cfg.ControllerRetries+1, lastErr)
}

// DropExcluded removes snippets of configured paths from the selection.
func (l *Loop) DropExcluded(mgr *contextmgr.Manager) {
	for _, p := range l.cfg.ExcludedPaths {
		if n := mgr.RemoveFile(p); n > 0 {
			l.logger.Debug("dropped excluded path", zap.String("path", p), zap.Int("snippets", n))
		}
	}
}
