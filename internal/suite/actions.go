package suite

import (
	"context"
	"errors"
	"time"

	"governor/internal/behavior"
	"governor/internal/engine"
	"governor/internal/recovery"
)

// hangFallback bounds a hang without a duration so an abandoned goroutine
// still exits eventually.
const hangFallback = 24 * time.Hour

// body turns the action into an engine body. Durations are validated at load.
func (a ActionSpec) body() engine.Body {
	d, _ := time.ParseDuration(a.Duration)

	return func(ctx context.Context, uc *behavior.Context) error {
		return a.run(ctx, d)
	}
}

func (a ActionSpec) run(ctx context.Context, d time.Duration) error {
	switch a.Action {
	case "sleep":
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case "hang":
		if d == 0 {
			d = hangFallback
		}
		time.Sleep(d)
		return nil
	case "fail":
		return errors.New(a.messageOr("simulated failure"))
	case "panic":
		panic(a.messageOr("simulated panic"))
	case "fatal":
		return recovery.Fatal(errors.New(a.messageOr("simulated fatal error")))
	case "skip":
		return engine.Skip(a.messageOr("skipped by suite"))
	}
	return nil
}

func (a ActionSpec) messageOr(def string) string {
	if a.Message != "" {
		return a.Message
	}
	return def
}
