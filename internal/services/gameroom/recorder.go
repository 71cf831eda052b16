package gameroom

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	recordAttempts = 3
	recordTimeout  = 10 * time.Second
	recordBackoff  = 200 * time.Millisecond
)

// recordResult persists the result off the room goroutine, retrying with
// exponential backoff. Each recorder of a MultiRecorder retries on its own so
// one failing store never replays a write into the others.
func (r *MatchRoom) recordResult(result MatchResult) {
	if r.recorder == nil {
		return
	}
	recorders := []ResultRecorder{r.recorder}
	if multi, ok := r.recorder.(MultiRecorder); ok {
		recorders = multi
	}
	for _, rec := range recorders {
		if rec == nil {
			continue
		}
		go func() {
			if err := recordWithRetry(rec, result, r.log); err != nil {
				r.log.Error("failed to record match result after all retries", zap.Error(err))
			}
		}()
	}
}

func recordWithRetry(rec ResultRecorder, result MatchResult, log *zap.Logger) error {
	var lastErr error
	backoff := recordBackoff

	for attempt := 1; attempt <= recordAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := rec.RecordResult(ctx, result)
		cancel()
		if err == nil {
			log.Info("match result recorded", zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		log.Warn("recording match result failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < recordAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// MultiRecorder writes a result to every recorder and joins their errors.
type MultiRecorder []ResultRecorder

func (m MultiRecorder) RecordResult(ctx context.Context, result MatchResult) error {
	var errs []error
	for _, rec := range m {
		if rec == nil {
			continue
		}
		if err := rec.RecordResult(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
