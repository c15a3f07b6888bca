package orchestrator

import (
	"context"
	"errors"
	"sort"
	"time"

	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/generation"
	ledgerdomain "promptforge/internal/domain/ledger"
	"promptforge/internal/infra/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	DefaultBatchSize   = 3
	DefaultBatchDelay  = 400 * time.Millisecond
	DefaultSlotTimeout = 90 * time.Second
	MaxSlots           = 12
)

// Debiter charges one unit per slot attempt.
type Debiter interface {
	Debit(ctx context.Context, accountID uint, amount int64) (int64, error)
}

// Generator is the remote text generation call.
type Generator interface {
	Generate(ctx context.Context, in generation.Input) (string, error)
}

// Orchestrator runs generation requests slot by slot: debit first, then call.
// A debited unit is never refunded, whatever the call's result.
type Orchestrator struct {
	db          *gorm.DB
	ledger      Debiter
	gen         Generator
	inflight    InFlight
	log         *zap.Logger
	metrics     *metrics.Metrics
	batchSize   int
	batchDelay  time.Duration
	slotTimeout time.Duration
}

type Option func(*Orchestrator)

func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func WithBatchDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.batchDelay = d
		}
	}
}

func WithSlotTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.slotTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func New(db *gorm.DB, ledger Debiter, gen Generator, inflight InFlight, log *zap.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if inflight == nil {
		inflight = NewMemoryInFlight()
	}
	o := &Orchestrator{
		db:          db,
		ledger:      ledger,
		gen:         gen,
		inflight:    inflight,
		log:         log.Named("orchestrator"),
		batchSize:   DefaultBatchSize,
		batchDelay:  DefaultBatchDelay,
		slotTimeout: DefaultSlotTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SlotSpec is the caller's description of one slot.
type SlotSpec struct {
	Style     string `json:"style"`
	Model     string `json:"model"`
	Variation int    `json:"variation"`
}

// Submit persists a new request and starts it. Without an account every slot
// resolves to NeedsAuth and nothing is stored or charged.
func (o *Orchestrator) Submit(ctx context.Context, accountID uint, prompt string, specs []SlotSpec) (generation.Request, <-chan generation.Outcome, error) {
	if err := validate(prompt, specs); err != nil {
		return generation.Request{}, nil, err
	}
	if accountID == 0 {
		req := draftRequest(0, prompt, specs)
		return req, o.Run(ctx, 0, req), nil
	}
	req, err := o.Create(ctx, accountID, prompt, specs)
	if err != nil {
		return generation.Request{}, nil, err
	}
	return req, o.Run(ctx, accountID, req), nil
}

// Run streams one terminal outcome per live slot. Batches run one after
// another with a fixed delay in between; canceling ctx stops new batches but
// lets the current one settle. The channel closes after the last outcome.
func (o *Orchestrator) Run(ctx context.Context, accountID uint, req generation.Request) <-chan generation.Outcome {
	slots := req.LiveSlots()
	out := make(chan generation.Outcome, len(slots))

	go func() {
		defer close(out)

		if accountID == 0 {
			for _, slot := range slots {
				out <- o.finish(req, generation.Outcome{Index: slot.Index, Status: generation.StatusNeedsAuth, Reason: "sign in to generate"})
			}
			return
		}

		for start := 0; start < len(slots); start += o.batchSize {
			if (start == 0 && ctx.Err() != nil) || (start > 0 && !o.pause(ctx)) {
				for _, slot := range slots[start:] {
					out <- o.finish(req, generation.Outcome{Index: slot.Index, Status: generation.StatusFailed, Reason: "request canceled"})
				}
				return
			}
			end := start + o.batchSize
			if end > len(slots) {
				end = len(slots)
			}
			o.runBatch(ctx, accountID, req, slots[start:end], out)
		}
	}()
	return out
}

// pause waits out the inter-batch delay. It reports false if ctx ends first.
func (o *Orchestrator) pause(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if o.batchDelay <= 0 {
		return true
	}
	t := time.NewTimer(o.batchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// runBatch debits in slot order, then runs the charged calls concurrently
// and waits for all of them.
func (o *Orchestrator) runBatch(ctx context.Context, accountID uint, req generation.Request, batch []generation.SlotConfig, out chan<- generation.Outcome) {
	charged := make([]attempt, 0, len(batch))
	for _, slot := range batch {
		a, done := o.prepare(ctx, accountID, req, slot)
		if done != nil {
			out <- o.finish(req, *done)
			continue
		}
		charged = append(charged, a)
	}

	var g errgroup.Group
	for _, a := range charged {
		g.Go(func() error {
			out <- o.finish(req, o.execute(ctx, req, a))
			return nil
		})
	}
	_ = g.Wait()
}

// attempt is a slot that holds its in-flight signature and has been charged.
type attempt struct {
	input     generation.Input
	release   func()
	remaining int64
}

// prepare claims the slot signature and debits one unit. A non-nil outcome
// means the slot ends here without a call.
func (o *Orchestrator) prepare(ctx context.Context, accountID uint, req generation.Request, slot generation.SlotConfig) (attempt, *generation.Outcome) {
	in := generation.Input{
		Prompt:    req.Prompt,
		Style:     slot.Style,
		Model:     slot.Model,
		Variation: slot.Variation,
		Index:     slot.Index,
	}
	log := o.log.With(zap.String("request_id", req.ID), zap.Int("slot", slot.Index))

	release, acquired, err := o.inflight.Acquire(ctx, Signature(accountID, in))
	if err != nil {
		log.Error("in-flight check failed", zap.Error(err))
		return attempt{}, &generation.Outcome{Index: slot.Index, Status: generation.StatusFailed, Reason: "duplicate check unavailable"}
	}
	if !acquired {
		return attempt{}, &generation.Outcome{Index: slot.Index, Status: generation.StatusSkipped, Reason: "identical generation already in progress"}
	}

	// a started debit completes even if the caller goes away
	remaining, err := o.ledger.Debit(context.WithoutCancel(ctx), accountID, 1)
	switch {
	case err == nil:
		return attempt{input: in, release: release, remaining: remaining}, nil
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		release()
		return attempt{}, &generation.Outcome{Index: slot.Index, Status: generation.StatusNeedsCredits, Reason: "insufficient balance", Remaining: &remaining}
	case errors.Is(err, accounts.ErrAccountNotFound):
		release()
		return attempt{}, &generation.Outcome{Index: slot.Index, Status: generation.StatusNeedsAuth, Reason: "account not found"}
	default:
		release()
		log.Error("debit failed", zap.Error(err))
		return attempt{}, &generation.Outcome{Index: slot.Index, Status: generation.StatusFailed, Reason: "could not charge for generation"}
	}
}

// execute makes the generation call for a charged slot and stores its result.
func (o *Orchestrator) execute(ctx context.Context, req generation.Request, a attempt) generation.Outcome {
	defer a.release()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.slotTimeout)
	defer cancel()

	started := time.Now()
	text, err := o.gen.Generate(callCtx, a.input)
	elapsed := time.Since(started)

	remaining := a.remaining
	outcome := generation.Outcome{Index: a.input.Index, Elapsed: elapsed, Remaining: &remaining}
	if err != nil {
		outcome.Status = generation.StatusFailed
		outcome.Reason = failureReason(err)
		o.log.Warn("generation failed",
			zap.String("request_id", req.ID), zap.Int("slot", a.input.Index), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		outcome.Status = generation.StatusCompleted
		outcome.Text = text
	}

	if req.ID != "" {
		if err := o.saveResult(context.WithoutCancel(ctx), req.ID, outcome); err != nil {
			o.log.Error("store generation result", zap.String("request_id", req.ID), zap.Int("slot", a.input.Index), zap.Error(err))
		}
	}
	return outcome
}

func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "generation timed out"
	}
	return "generation failed"
}

func (o *Orchestrator) finish(req generation.Request, outcome generation.Outcome) generation.Outcome {
	o.metrics.RecordSlotOutcome(string(outcome.Status))
	if outcome.Status == generation.StatusNeedsCredits {
		o.log.Debug("slot needs credits", zap.String("request_id", req.ID), zap.Int("slot", outcome.Index))
	}
	return outcome
}

// Regenerate reruns one existing slot under the same debit contract and
// overwrites its stored result.
func (o *Orchestrator) Regenerate(ctx context.Context, accountID uint, requestID string, index int) (generation.Outcome, error) {
	if accountID == 0 {
		return o.finish(generation.Request{ID: requestID}, generation.Outcome{Index: index, Status: generation.StatusNeedsAuth, Reason: "sign in to generate"}), nil
	}
	req, err := o.Load(ctx, accountID, requestID)
	if err != nil {
		return generation.Outcome{}, err
	}
	slot, ok := req.Slot(index)
	if !ok || slot.Dropped {
		return generation.Outcome{}, generation.ErrSlotNotFound
	}

	a, done := o.prepare(ctx, accountID, req, slot)
	if done != nil {
		return o.finish(req, *done), nil
	}
	return o.finish(req, o.execute(ctx, req, a)), nil
}

// Chaos reruns every live slot at once, without batching. Outcomes are
// returned in slot order. Without an account every live slot reports
// NeedsAuth.
func (o *Orchestrator) Chaos(ctx context.Context, accountID uint, requestID string) ([]generation.Outcome, error) {
	if accountID == 0 {
		indices, err := o.liveIndices(ctx, requestID)
		if err != nil {
			return nil, err
		}
		req := generation.Request{ID: requestID}
		outcomes := make([]generation.Outcome, 0, len(indices))
		for _, index := range indices {
			outcomes = append(outcomes, o.finish(req, generation.Outcome{Index: index, Status: generation.StatusNeedsAuth, Reason: "sign in to generate"}))
		}
		return outcomes, nil
	}
	req, err := o.Load(ctx, accountID, requestID)
	if err != nil {
		return nil, err
	}
	slots := req.LiveSlots()
	outcomes := make([]generation.Outcome, len(slots))

	var g errgroup.Group
	for i, slot := range slots {
		g.Go(func() error {
			a, done := o.prepare(ctx, accountID, req, slot)
			if done != nil {
				outcomes[i] = o.finish(req, *done)
				return nil
			}
			outcomes[i] = o.finish(req, o.execute(ctx, req, a))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })
	return outcomes, nil
}
