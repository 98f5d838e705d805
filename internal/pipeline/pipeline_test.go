package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dribblewithclong/stocks-data-pipeline/internal/extract"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/load"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/model"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/schedule"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/transform"
)

type fakeLoader struct {
	mu      sync.Mutex
	batches []*model.Batch
	err     error
}

func (f *fakeLoader) Load(_ context.Context, b *model.Batch) (load.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return load.Result{}, f.err
	}
	f.batches = append(f.batches, b)
	return load.Result{Inserted: int64(b.Len())}, nil
}

func (f *fakeLoader) loaded() []*model.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Batch, len(f.batches))
	copy(out, f.batches)
	return out
}

// emptySources registers every windowed source type as a no-data extractor.
func emptySources() map[model.SourceType]extract.Extractor {
	sources := make(map[model.SourceType]extract.Extractor)
	for _, s := range model.WindowedSources() {
		sources[s] = extract.Func(func(context.Context, string, string, string) ([]extract.Raw, error) {
			return nil, nil
		})
	}
	return sources
}

func newRunner(sources map[model.SourceType]extract.Extractor, loader load.Loader, symbols ...string) *Runner {
	return &Runner{
		Sources:    sources,
		Specs:      transform.Specs(),
		Loader:     loader,
		Symbols:    symbols,
		NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

func window(t *testing.T, day int) schedule.Window {
	t.Helper()
	start := time.Date(2022, time.April, day, 2, 0, 0, 0, time.UTC)
	return schedule.Window{Start: start, End: start.Add(24 * time.Hour)}
}

func resultsByStatus(rep *Report) map[Status]int {
	out := make(map[Status]int)
	for _, res := range rep.Results() {
		out[res.Status]++
	}
	return out
}

func TestRunLoadsExtractedData(t *testing.T) {
	sources := emptySources()
	sources[model.SourcePrice] = extract.Func(func(_ context.Context, symbol, from, to string) ([]extract.Raw, error) {
		if from != "2022-04-02" || to != "2022-04-03" {
			return nil, fmt.Errorf("unexpected window %s/%s", from, to)
		}
		return []extract.Raw{{"date": from, "price": 150.0, "volume": int64(1000000)}}, nil
	})
	loader := &fakeLoader{}
	r := newRunner(sources, loader, "AAPL")

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2)})

	if got := resultsByStatus(rep); got[StatusSucceeded] != 1 || got[StatusEmpty] != 3 || got[StatusFailed] != 0 {
		t.Errorf("statuses = %v, want 1 succeeded, 3 empty", got)
	}
	batches := loader.loaded()
	if len(batches) != 1 {
		t.Fatalf("loader saw %d batches, want 1", len(batches))
	}
	if batches[0].Table != "stock_price" {
		t.Errorf("loaded table %q, want stock_price", batches[0].Table)
	}
	if id := batches[0].Rows[0][0]; id != "AAPL_2022-04-02" {
		t.Errorf("loaded id %v, want AAPL_2022-04-02", id)
	}
	if rep.Degraded() || rep.AllFailed() {
		t.Errorf("Degraded() = %v, AllFailed() = %v, want false, false", rep.Degraded(), rep.AllFailed())
	}
}

func TestRunRetriesTransientExtractFailure(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	sources := emptySources()
	sources[model.SourcePrice] = extract.Func(func(_ context.Context, _, from, _ string) ([]extract.Raw, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return []extract.Raw{{"date": from, "price": 1.0, "volume": int64(1)}}, nil
	})
	loader := &fakeLoader{}
	r := newRunner(sources, loader, "AAPL")

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2)})

	if got := len(rep.Failures()); got != 0 {
		t.Fatalf("Failures() = %d, want 0: %+v", got, rep.Failures())
	}
	if calls != 3 {
		t.Errorf("extractor called %d times, want 3", calls)
	}
	for _, res := range rep.Results() {
		if res.Instance.Source != model.SourcePrice {
			continue
		}
		// 3 extract attempts, then one transform and one load.
		if res.Attempts != 5 {
			t.Errorf("Attempts = %d, want 5", res.Attempts)
		}
	}
}

func TestRunFailsAfterAttemptBudget(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	sources := emptySources()
	sources[model.SourcePrice] = extract.Func(func(context.Context, string, string, string) ([]extract.Raw, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, errors.New("provider down")
	})
	loader := &fakeLoader{}
	r := newRunner(sources, loader, "AAPL")

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2)})

	failures := rep.Failures()
	if len(failures) != 1 {
		t.Fatalf("Failures() = %d, want 1", len(failures))
	}
	if failures[0].Step != StepExtract {
		t.Errorf("failing step = %s, want %s", failures[0].Step, StepExtract)
	}
	if calls != 3 {
		t.Errorf("extractor called %d times, want 3", calls)
	}
	if got := len(loader.loaded()); got != 0 {
		t.Errorf("loader saw %d batches, want 0", got)
	}
	// The other source types still completed.
	if !rep.Degraded() {
		t.Error("Degraded() = false, want true")
	}
	if rep.AllFailed() {
		t.Error("AllFailed() = true, want false")
	}
}

func TestRunDoesNotRetryMalformedPayload(t *testing.T) {
	sources := emptySources()
	sources[model.SourcePrice] = extract.Func(func(_ context.Context, _, from, _ string) ([]extract.Raw, error) {
		return []extract.Raw{{"date": from, "price": 1.0}}, nil // no volume
	})
	loader := &fakeLoader{}
	r := newRunner(sources, loader, "AAPL")

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2)})

	failures := rep.Failures()
	if len(failures) != 1 {
		t.Fatalf("Failures() = %d, want 1", len(failures))
	}
	if failures[0].Step != StepTransform {
		t.Errorf("failing step = %s, want %s", failures[0].Step, StepTransform)
	}
	if !errors.Is(failures[0].Err, transform.ErrMalformedPayload) {
		t.Errorf("Err = %v, want ErrMalformedPayload", failures[0].Err)
	}
	// One extract attempt plus one transform attempt, no retries.
	if failures[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", failures[0].Attempts)
	}
	if got := len(loader.loaded()); got != 0 {
		t.Errorf("loader saw %d batches, want 0", got)
	}
}

func TestRunSkipsLoadOnEmptyExtraction(t *testing.T) {
	loader := &fakeLoader{}
	r := newRunner(emptySources(), loader, "AAPL", "TSLA")

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2)})

	if got := resultsByStatus(rep); got[StatusEmpty] != 8 || got[StatusFailed] != 0 || got[StatusSucceeded] != 0 {
		t.Errorf("statuses = %v, want 8 empty", got)
	}
	if got := len(loader.loaded()); got != 0 {
		t.Errorf("loader saw %d batches, want 0", got)
	}
}

func TestRunRetriesFailedLoad(t *testing.T) {
	sources := emptySources()
	sources[model.SourcePrice] = extract.Func(func(_ context.Context, _, from, _ string) ([]extract.Raw, error) {
		return []extract.Raw{{"date": from, "price": 1.0, "volume": int64(1)}}, nil
	})
	loader := &fakeLoader{err: errors.New("connection reset")}
	r := newRunner(sources, loader, "AAPL")

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2)})

	failures := rep.Failures()
	if len(failures) != 1 {
		t.Fatalf("Failures() = %d, want 1", len(failures))
	}
	if failures[0].Step != StepLoad {
		t.Errorf("failing step = %s, want %s", failures[0].Step, StepLoad)
	}
	// One extract, one transform, three load attempts.
	if failures[0].Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", failures[0].Attempts)
	}
}

func TestRunIsolatesSymbolFailures(t *testing.T) {
	sources := emptySources()
	sources[model.SourcePrice] = extract.Func(func(_ context.Context, symbol, from, _ string) ([]extract.Raw, error) {
		if symbol == "TSLA" {
			return nil, errors.New("provider down")
		}
		return []extract.Raw{{"date": from, "price": 1.0, "volume": int64(1)}}, nil
	})
	loader := &fakeLoader{}
	r := newRunner(sources, loader, "AAPL", "TSLA")

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2)})

	failures := rep.Failures()
	if len(failures) != 1 {
		t.Fatalf("Failures() = %d, want 1", len(failures))
	}
	if failures[0].Instance.Symbol != "TSLA" {
		t.Errorf("failed symbol = %s, want TSLA", failures[0].Instance.Symbol)
	}
	batches := loader.loaded()
	if len(batches) != 1 || batches[0].Rows[0][0] != "AAPL_2022-04-02" {
		t.Errorf("loader saw %v, want only AAPL's batch", batches)
	}
}

func TestRunMultipleWindows(t *testing.T) {
	sources := emptySources()
	sources[model.SourcePrice] = extract.Func(func(_ context.Context, _, from, _ string) ([]extract.Raw, error) {
		return []extract.Raw{{"date": from, "price": 1.0, "volume": int64(1)}}, nil
	})
	loader := &fakeLoader{}
	r := newRunner(sources, loader, "AAPL")

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2), window(t, 3), window(t, 4)})

	if got := resultsByStatus(rep); got[StatusSucceeded] != 3 {
		t.Errorf("statuses = %v, want 3 succeeded", got)
	}
	ids := make(map[interface{}]bool)
	for _, b := range loader.loaded() {
		ids[b.Rows[0][0]] = true
	}
	for _, want := range []string{"AAPL_2022-04-02", "AAPL_2022-04-03", "AAPL_2022-04-04"} {
		if !ids[want] {
			t.Errorf("missing loaded id %s", want)
		}
	}
}

func TestRunProfiles(t *testing.T) {
	sources := map[model.SourceType]extract.Extractor{
		model.SourceProfile: extract.Func(func(_ context.Context, symbol, from, to string) ([]extract.Raw, error) {
			if from != "" || to != "" {
				return nil, fmt.Errorf("profile extraction got window %s/%s", from, to)
			}
			return []extract.Raw{{
				"ticker":               symbol,
				"country":              "US",
				"currency":             "USD",
				"estimateCurrency":     "USD",
				"exchange":             "NASDAQ NMS - GLOBAL MARKET",
				"finnhubIndustry":      "Technology",
				"ipo":                  "1980-12-12",
				"logo":                 "https://example.com/logo.png",
				"marketCapitalization": 1.0,
				"name":                 symbol + " Inc",
				"phone":                "0",
				"shareOutstanding":     1.0,
				"weburl":               "https://example.com/",
			}}, nil
		}),
	}
	loader := &fakeLoader{}
	r := newRunner(sources, loader, "AAPL", "MSFT")

	rep := r.RunProfiles(context.Background(), r.Symbols)

	if got := resultsByStatus(rep); got[StatusSucceeded] != 2 || got[StatusFailed] != 0 {
		t.Errorf("statuses = %v, want 2 succeeded", got)
	}
	for _, b := range loader.loaded() {
		if b.Table != "stock_info" {
			t.Errorf("loaded table %q, want stock_info", b.Table)
		}
	}
}

// gauge counts concurrently running extractions and remembers the peak.
type gauge struct {
	mu     sync.Mutex
	active int
	peak   int
}

func (g *gauge) enter() {
	g.mu.Lock()
	g.active++
	if g.active > g.peak {
		g.peak = g.active
	}
	g.mu.Unlock()
}

func (g *gauge) exit() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
}

func (g *gauge) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func gaugedSources(g *gauge) map[model.SourceType]extract.Extractor {
	sources := make(map[model.SourceType]extract.Extractor)
	for _, s := range model.WindowedSources() {
		sources[s] = extract.Func(func(context.Context, string, string, string) ([]extract.Raw, error) {
			g.enter()
			defer g.exit()
			time.Sleep(2 * time.Millisecond)
			return nil, nil
		})
	}
	return sources
}

func TestRunBoundsInstancesPerWindow(t *testing.T) {
	g := &gauge{}
	r := newRunner(gaugedSources(g), &fakeLoader{}, "AAPL", "TSLA", "MSFT")
	r.WindowSlots = 1
	r.StepSlots = 2

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2), window(t, 3)})

	if got := resultsByStatus(rep); got[StatusEmpty] != 24 || got[StatusFailed] != 0 {
		t.Errorf("statuses = %v, want 24 empty", got)
	}
	if got := g.max(); got > 2 {
		t.Errorf("observed %d concurrent extractions, want at most 2", got)
	}
}

func TestRunBoundsConcurrentWindows(t *testing.T) {
	g := &gauge{}
	r := newRunner(gaugedSources(g), &fakeLoader{}, "AAPL", "TSLA")
	r.WindowSlots = 2
	r.StepSlots = 1

	windows := []schedule.Window{window(t, 2), window(t, 3), window(t, 4), window(t, 5)}
	rep := r.Run(context.Background(), windows)

	if got := resultsByStatus(rep); got[StatusEmpty] != 32 || got[StatusFailed] != 0 {
		t.Errorf("statuses = %v, want 32 empty", got)
	}
	// One instance at a time inside each of at most two windows.
	if got := g.max(); got > 2 {
		t.Errorf("observed %d concurrent extractions, want at most 2", got)
	}
}

func TestRunUnregisteredSourceFails(t *testing.T) {
	loader := &fakeLoader{}
	r := newRunner(map[model.SourceType]extract.Extractor{}, loader, "AAPL")

	rep := r.Run(context.Background(), []schedule.Window{window(t, 2)})

	if !rep.AllFailed() {
		t.Errorf("AllFailed() = false, want true: %s", rep.Summary())
	}
}
