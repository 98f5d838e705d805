/*
Copyright © 2020 A. Jensen <jensen.aaro@gmail.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package pipeline orchestrates the recurring extract -> transform ->
// load runs. Every (symbol, source type, window) combination is an
// independent instance: its steps run strictly in order and are retried
// individually, while instances themselves fan out under bounded
// concurrency and never fail each other.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/logging"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/dribblewithclong/stocks-data-pipeline/internal/extract"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/load"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/model"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/schedule"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/transform"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/util"
)

type Step string

const (
	StepExtract   Step = "extract"
	StepTransform Step = "transform"
	StepLoad      Step = "load"
)

// Instance is one pipeline execution unit: one symbol, one source type,
// one scheduled window. Profile instances carry a zero window.
type Instance struct {
	Symbol string
	Source model.SourceType
	Window schedule.Window
}

func (i Instance) String() string {
	return fmt.Sprintf("%s/%s@%s", i.Symbol, i.Source, i.Window)
}

const (
	defaultMaxAttempts = 3
	defaultWindowSlots = 2
	defaultStepSlots   = 2
)

// BackOffFactory builds one fresh backoff policy per step execution.
type BackOffFactory func() backoff.BackOff

// Runner drives pipeline instances for a declared symbol universe.
// MaxAttempts bounds every step; WindowSlots bounds how many scheduled
// windows run at once and StepSlots how many instances run inside one
// window (and how many profile instances run at once).
type Runner struct {
	Sources map[model.SourceType]extract.Extractor
	Specs   map[model.SourceType]transform.Spec
	Loader  load.Loader
	Symbols []string

	Latency     time.Duration
	NewBackOff  BackOffFactory
	MaxAttempts int
	WindowSlots int64
	StepSlots   int64
}

// Run executes all windowed source types for every symbol across the
// given windows. Windows are admitted oldest first so a catchup drains
// history in order; at most WindowSlots of them overlap. The report
// carries one result per instance; a failed instance never aborts the
// run.
func (r *Runner) Run(ctx context.Context, windows []schedule.Window) *Report {
	rep := newReport()
	defer rep.finish()

	util.Logf(ctx, logging.Info, "starting run %s: %d windows, %d symbols", rep.RunID, len(windows), len(r.Symbols))

	sem := semaphore.NewWeighted(r.windowSlots())
	var wg sync.WaitGroup
	for _, w := range windows {
		if err := sem.Acquire(ctx, 1); err != nil {
			util.Logf(ctx, logging.Warning, "aborting remaining windows of run %s: %v", rep.RunID, err)
			break
		}
		wg.Add(1)
		go func(w schedule.Window) {
			defer wg.Done()
			defer sem.Release(1)
			r.runWindow(ctx, w, rep)
		}(w)
	}
	wg.Wait()

	return rep
}

// RunProfiles ingests the entity profile for every symbol. Profiles take
// no window; concurrency is bounded by StepSlots like any other instance
// fan-out.
func (r *Runner) RunProfiles(ctx context.Context, symbols []string) *Report {
	rep := newReport()
	defer rep.finish()

	sem := semaphore.NewWeighted(r.stepSlots())
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		if err := sem.Acquire(ctx, 1); err != nil {
			util.Logf(ctx, logging.Warning, "aborting remaining profiles of run %s: %v", rep.RunID, err)
			break
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer sem.Release(1)
			rep.add(r.runInstance(ctx, Instance{Symbol: symbol, Source: model.SourceProfile}))
		}(symbol)
	}
	wg.Wait()

	return rep
}

func (r *Runner) runWindow(ctx context.Context, w schedule.Window, rep *Report) {
	ctx = util.WithLoggerValue(ctx, "window", w.String())

	sem := semaphore.NewWeighted(r.stepSlots())
	var wg sync.WaitGroup
	for _, symbol := range r.Symbols {
		for _, source := range model.WindowedSources() {
			if err := sem.Acquire(ctx, 1); err != nil {
				util.Logf(ctx, logging.Warning, "aborting remaining instances of window %s: %v", w, err)
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(inst Instance) {
				defer wg.Done()
				defer sem.Release(1)
				rep.add(r.runInstance(ctx, inst))
			}(Instance{Symbol: symbol, Source: source, Window: w})
		}
	}
	wg.Wait()
}

// runInstance executes the three dependent steps of one instance. A step
// that exhausts its attempt budget fails the instance and the downstream
// steps never run. An empty extraction is not a failure: the instance
// completes as a no-op.
func (r *Runner) runInstance(ctx context.Context, inst Instance) InstanceResult {
	ctx = util.WithLoggerValue(ctx, "symbol", inst.Symbol)
	ctx = util.WithLoggerValue(ctx, "source", inst.Source.String())

	res := InstanceResult{Instance: inst, Status: StatusSucceeded}

	source, ok := r.Sources[inst.Source]
	if !ok {
		res.Status, res.Err = StatusFailed, fmt.Errorf("no source registered for %s", inst.Source)
		return res
	}
	spec, ok := r.Specs[inst.Source]
	if !ok {
		res.Status, res.Err = StatusFailed, fmt.Errorf("no transform rules registered for %s", inst.Source)
		return res
	}

	var from, to string
	if !inst.Window.IsZero() {
		from, to = inst.Window.Resolve(r.latency())
	}

	var raws []extract.Raw
	attempts, err := r.retryStep(ctx, StepExtract, func(ctx context.Context) error {
		var err error
		raws, err = source.Extract(ctx, inst.Symbol, from, to)
		return err
	})
	res.Attempts += attempts
	if err != nil {
		res.Status, res.Step, res.Err = StatusFailed, StepExtract, err
		util.Logf(ctx, logging.Error, "failed to extract %s after %d attempts: %v", inst, attempts, err)
		return res
	}

	var batch *model.Batch
	attempts, err = r.retryStep(ctx, StepTransform, func(context.Context) error {
		var err error
		batch, err = transform.Apply(spec, inst.Symbol, raws)
		if err != nil && errors.Is(err, transform.ErrMalformedPayload) {
			return backoff.Permanent(err)
		}
		return err
	})
	res.Attempts += attempts
	if err != nil {
		res.Status, res.Step, res.Err = StatusFailed, StepTransform, err
		util.Logf(ctx, logging.Error, "failed to transform %s: %v", inst, err)
		return res
	}

	if batch.Len() == 0 {
		res.Status = StatusEmpty
		util.Logf(ctx, logging.Info, "no data for %s, skipping load", inst)
		return res
	}

	attempts, err = r.retryStep(ctx, StepLoad, func(ctx context.Context) error {
		lr, err := r.Loader.Load(ctx, batch)
		if err != nil {
			return err
		}
		res.Inserted, res.Conflicts = lr.Inserted, lr.Conflicts
		return nil
	})
	res.Attempts += attempts
	if err != nil {
		res.Status, res.Step, res.Err = StatusFailed, StepLoad, err
		util.Logf(ctx, logging.Error, "failed to load %s after %d attempts: %v", inst, attempts, err)
		return res
	}

	res.Rows = batch.Len()
	util.Logf(ctx, logging.Info, "loaded %d rows for %s (%d inserted, %d duplicates skipped)", res.Rows, inst, res.Inserted, res.Conflicts)
	return res
}

func (r *Runner) retryStep(ctx context.Context, step Step, op func(context.Context) error) (attempts int, err error) {
	ctx = util.WithLoggerValue(ctx, "step", string(step))

	bo := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.maxAttempts()-1)), ctx)
	err = backoff.RetryNotify(func() error {
		attempts++
		return op(ctx)
	}, bo, func(err error, wait time.Duration) {
		if errors.Is(err, extract.ErrTooManyRequests) {
			util.Logf(ctx, logging.Info, "request exceeded rate limit, waiting %v before retrying: %v", wait, err)
			return
		}
		util.Logf(ctx, logging.Warning, "%s failed, waiting %v before retrying: %v", step, wait, err)
	})
	return attempts, err
}

func (r *Runner) latency() time.Duration {
	if r.Latency <= 0 {
		return schedule.DefaultLatency
	}
	return r.Latency
}

func (r *Runner) newBackOff() backoff.BackOff {
	if r.NewBackOff == nil {
		return backoff.NewExponentialBackOff()
	}
	return r.NewBackOff()
}

func (r *Runner) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return r.MaxAttempts
}

func (r *Runner) windowSlots() int64 {
	if r.WindowSlots <= 0 {
		return defaultWindowSlots
	}
	return r.WindowSlots
}

func (r *Runner) stepSlots() int64 {
	if r.StepSlots <= 0 {
		return defaultStepSlots
	}
	return r.StepSlots
}
