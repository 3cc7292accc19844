package evaluation

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// schedulerRetryDelay is how long Run pauses after a failed scheduling pass
// or while the registry has no miners at all.
const schedulerRetryDelay = time.Minute

// ErrEmptyBatch reports a scheduling pass that found the head of the
// rotation due but then filtered every candidate out. The head must survive
// its own filter, so this is a logic bug and fatal to Run.
var ErrEmptyBatch = errors.New("evaluation batch is empty after filtering")

// RunNextBatch runs at most one batch of evaluations and returns how long
// the caller should wait before the next pass. A zero wait means a batch ran
// and another may already be due. When the miner at the head of the rotation
// was evaluated too recently the pass runs nothing and returns the time
// until it falls due; miners ahead of it in the rotation wait their turn,
// which keeps the walk fair under a population too small to fill the period.
func (e *Evaluator) RunNextBatch(ctx context.Context) (time.Duration, error) {
	e.mu.Lock()
	snapshot := e.snapshot.Clone()
	e.mu.Unlock()

	head, ok := e.iterator.Peek()
	if !ok {
		e.logger.Info("[scheduler] no miners registered")
		return schedulerRetryDelay, nil
	}
	identity, ok := snapshot.Identity(head)
	if !ok {
		// Iterator and snapshot disagree only in the window between a
		// registry sync and this clone. The next pass sees both updated.
		return 0, nil
	}

	now := time.Now().UTC()
	lastEvaluated, found, err := e.store.ReadMinerLastUpdated(ctx, identity.Hotkey)
	if err != nil {
		return 0, err
	}
	if found && now.Sub(lastEvaluated) < e.minEvalPeriod {
		return e.minEvalPeriod - now.Sub(lastEvaluated), nil
	}

	// Draw a batch from the rotation. Draws can repeat when the population
	// is smaller than the batch, so collect into a set.
	drawn := make(map[int]struct{}, e.batchSize)
	for i := 0; i < e.batchSize; i++ {
		uid, ok := e.iterator.Next()
		if !ok {
			break
		}
		drawn[uid] = struct{}{}
	}

	// Keep only the draws that are due. The head is due and is always the
	// first draw, so the batch cannot come out empty.
	uids := make([]int, 0, len(drawn))
	for uid := range drawn {
		id, ok := snapshot.Identity(uid)
		if !ok {
			continue
		}
		last, found, err := e.store.ReadMinerLastUpdated(ctx, id.Hotkey)
		if err != nil {
			return 0, err
		}
		if !found || now.Sub(last) >= e.minEvalPeriod {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return 0, ErrEmptyBatch
	}
	sort.Ints(uids)

	e.logger.Info("[scheduler] running evaluation batch", zap.Ints("uids", uids))

	batchCtx, cancel := context.WithTimeout(ctx, e.batchDeadline)
	defer cancel()

	group := e.pool.NewGroupContext(batchCtx)
	groupCtx := group.Context()
	for _, uid := range uids {
		uid := uid
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			e.EvalMiner(groupCtx, uid)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		e.logger.Warn("[scheduler] evaluation batch did not finish cleanly", zap.Error(err))
	}

	return 0, nil
}

// Run drives scheduling passes until ctx is cancelled. Transient failures
// are logged and retried after a delay; ErrEmptyBatch is returned as-is
// since it indicates a bug rather than an environmental failure.
func (e *Evaluator) Run(ctx context.Context) error {
	e.logger.Info("[scheduler] evaluation loop started",
		zap.Int("miners", e.iterator.Len()),
		zap.Duration("min_evaluation_period", e.minEvalPeriod))

	for {
		wait, err := e.RunNextBatch(ctx)
		if errors.Is(err, ErrEmptyBatch) {
			return err
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("[scheduler] scheduling pass failed", zap.Error(err))
			wait = schedulerRetryDelay
		}
		if wait > 0 {
			e.logger.Info("[scheduler] waiting before next batch", zap.Duration("wait", wait))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
