// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faultlineio/faultline/services/agents"
	"github.com/faultlineio/faultline/services/incident"
	"github.com/faultlineio/faultline/services/llm"
	"github.com/faultlineio/faultline/services/notify"
	"github.com/faultlineio/faultline/services/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSim counts calls and fails the first failFirst calls with failErr.
type fakeSim struct {
	calls     atomic.Int64
	failFirst int64
	failErr   error
	res       agents.ActionResult
}

func (f *fakeSim) Simulate(context.Context, string) (agents.ActionResult, error) {
	n := f.calls.Add(1)
	if n <= f.failFirst {
		return agents.ActionResult{}, f.failErr
	}
	return f.res, nil
}

type fakeCls struct {
	calls     atomic.Int64
	failFirst int64
	failErr   error
	res       agents.SeverityResult
}

func (f *fakeCls) Classify(context.Context, string) (agents.SeverityResult, error) {
	n := f.calls.Add(1)
	if n <= f.failFirst {
		return agents.SeverityResult{}, f.failErr
	}
	return f.res, nil
}

type fakeAuthor struct {
	calls     atomic.Int64
	failFirst int64
	failErr   error
	doc       string
}

func (f *fakeAuthor) Author(_ context.Context, inc *incident.Incident) (string, error) {
	n := f.calls.Add(1)
	if n <= f.failFirst {
		return "", f.failErr
	}
	return f.doc, nil
}

// flakyStore makes Put fail while failing is set.
type flakyStore struct {
	*store.Store
	failing atomic.Bool
}

func (f *flakyStore) Put(inc *incident.Incident) error {
	if f.failing.Load() {
		return errors.New("disk full")
	}
	return f.Store.Put(inc)
}

// recordingNotifier captures event kinds in order.
type recordingNotifier struct {
	mu    sync.Mutex
	kinds []notify.EventKind
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, ev.Kind)
}

func (r *recordingNotifier) seen() []notify.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.EventKind(nil), r.kinds...)
}

type fixture struct {
	coord    *Coordinator
	store    *flakyStore
	sim      *fakeSim
	cls      *fakeCls
	author   *fakeAuthor
	notifier *recordingNotifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reports, err := store.NewReports(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store: &flakyStore{Store: st},
		sim: &fakeSim{res: agents.ActionResult{
			Action:   incident.ActionAdjustQoS,
			Decision: "Adjust QoS profile to 'voice-priority'",
			Outcome:  "[10:01] INFO KPIs stabilized",
		}},
		cls: &fakeCls{res: agents.SeverityResult{
			Level:     incident.SeverityP2,
			Rationale: "Congestion affecting many subscribers.",
		}},
		author:   &fakeAuthor{doc: "# RCA Report - log_42\n\n## Root Cause\nqueue overflow"},
		notifier: &recordingNotifier{},
	}
	f.coord = New(cfg, f.store, reports, f.sim, f.cls, f.author, nil, f.notifier, nil)
	return f
}

func testConfig() Config {
	return Config{
		MaxAttempts:   3,
		StoreAttempts: 2,
		Backoff:       BackoffPolicy{Base: time.Millisecond, Max: 4 * time.Millisecond},
	}
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t, testConfig())

	inc := incident.New("log_42", "log_42.txt",
		"[09:58] WARN CELL-442 PRB utilization 91%, voice jitter rising")
	got, err := f.coord.Process(context.Background(), inc)
	require.NoError(t, err)

	assert.Equal(t, incident.StatusRCAWritten, got.Status)
	assert.Equal(t, incident.ActionAdjustQoS, got.Action)
	assert.Equal(t, incident.SeverityP2, got.Severity)
	assert.Contains(t, got.RCADocument, "## Root Cause")

	stored, found, err := f.store.Get("log_42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, incident.StatusRCAWritten, stored.Status)

	assert.Equal(t, []notify.EventKind{
		notify.EventDetected, notify.EventAction, notify.EventClassified, notify.EventRCADone,
	}, f.notifier.seen())
}

func TestProcessIdempotentOnTerminal(t *testing.T) {
	f := newFixture(t, testConfig())

	inc := incident.New("log_42", "log_42.txt", "raw")
	first, err := f.coord.Process(context.Background(), inc)
	require.NoError(t, err)
	require.Equal(t, incident.StatusRCAWritten, first.Status)

	again, err := f.coord.Process(context.Background(), incident.New("log_42", "log_42.txt", "raw"))
	require.NoError(t, err)
	assert.Equal(t, first.RCADocument, again.RCADocument)

	assert.Equal(t, int64(1), f.sim.calls.Load())
	assert.Equal(t, int64(1), f.cls.calls.Load())
	assert.Equal(t, int64(1), f.author.calls.Load())
}

func TestProcessPerIncidentExclusion(t *testing.T) {
	f := newFixture(t, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Process(context.Background(), incident.New("log_42", "log_42.txt", "raw"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Only the first holder runs the stages; the rest observe the
	// committed terminal record.
	assert.Equal(t, int64(1), f.sim.calls.Load())
	assert.Equal(t, int64(1), f.cls.calls.Load())
	assert.Equal(t, int64(1), f.author.calls.Load())
}

func TestTransientFailureExactAttemptBound(t *testing.T) {
	f := newFixture(t, testConfig())
	f.sim.failFirst = 1000
	f.sim.failErr = llm.NewTransient("openai.chat", errors.New("429"))

	got, err := f.coord.Process(context.Background(), incident.New("log_1", "log_1.txt", "raw"))
	require.Error(t, err)

	assert.Equal(t, int64(3), f.sim.calls.Load(), "MaxAttempts is an exact call budget")
	assert.Equal(t, incident.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "action")
	assert.Equal(t, int64(0), f.cls.calls.Load(), "later stages never run after a failure")
}

func TestPermanentFailureNoRetry(t *testing.T) {
	f := newFixture(t, testConfig())
	f.cls.failFirst = 1000
	f.cls.failErr = llm.NewPermanent("openai.chat", errors.New("invalid api key"))

	got, err := f.coord.Process(context.Background(), incident.New("log_2", "log_2.txt", "raw"))
	require.Error(t, err)

	assert.Equal(t, int64(1), f.cls.calls.Load())
	assert.Equal(t, incident.StatusFailed, got.Status)
	// The action stage committed before the failure and survives it.
	assert.Equal(t, incident.ActionAdjustQoS, got.Action)
}

func TestTransientRecoveryWithinBudget(t *testing.T) {
	f := newFixture(t, testConfig())
	f.author.failFirst = 2
	f.author.failErr = llm.NewTransient("openai.chat", errors.New("timeout"))

	got, err := f.coord.Process(context.Background(), incident.New("log_3", "log_3.txt", "raw"))
	require.NoError(t, err)
	assert.Equal(t, incident.StatusRCAWritten, got.Status)
	assert.Equal(t, int64(3), f.author.calls.Load())
}

func TestRCAPersistFailureKeepsClassifiedState(t *testing.T) {
	f := newFixture(t, testConfig())

	// Let action and severity commit, then break the store for the RCA write.
	f.cls.res.Level = incident.SeverityP2
	inc := incident.New("log_4", "log_4.txt", "raw")

	// Stage the incident up to SEVERITY_CLASSIFIED first.
	st := f.store.Store
	require.NoError(t, st.Put(func() *incident.Incident {
		i := incident.New("log_4", "log_4.txt", "raw")
		i.SetAction(incident.ActionAdjustQoS, "out")
		i.SetSeverity(incident.SeverityP2, "congestion")
		return i
	}()))

	f.store.failing.Store(true)
	_, err := f.coord.Process(context.Background(), inc)
	require.Error(t, err)

	f.store.failing.Store(false)
	stored, found, err := st.Get("log_4")
	require.NoError(t, err)
	require.True(t, found)
	// The in-memory failure could not be persisted either, so the stored
	// record still holds the classified stage with no RCA.
	assert.Empty(t, stored.RCADocument)
	assert.Equal(t, incident.SeverityP2, stored.Severity)

	// A reprocess with a healthy store finishes from where it stopped.
	got, err := f.coord.Reprocess(context.Background(), "log_4")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusRCAWritten, got.Status)
}

func TestReprocessResumesWithoutRedoingStages(t *testing.T) {
	f := newFixture(t, testConfig())
	f.author.failFirst = 1000
	f.author.failErr = llm.NewPermanent("openai.chat", errors.New("boom"))

	_, err := f.coord.Process(context.Background(), incident.New("log_5", "log_5.txt", "raw"))
	require.Error(t, err)
	simCalls := f.sim.calls.Load()
	clsCalls := f.cls.calls.Load()

	f.author.failFirst = 0
	got, err := f.coord.Reprocess(context.Background(), "log_5")
	require.NoError(t, err)

	assert.Equal(t, incident.StatusRCAWritten, got.Status)
	assert.Equal(t, simCalls, f.sim.calls.Load(), "committed action stage is not redone")
	assert.Equal(t, clsCalls, f.cls.calls.Load(), "committed severity stage is not redone")
}

func TestReprocessUnknownIncident(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.coord.Reprocess(context.Background(), "nope")
	assert.Error(t, err)
}

func TestPoolIsolatesFailures(t *testing.T) {
	f := newFixture(t, testConfig())
	f.cls.failFirst = 3 // exhaust the budget for whichever incident classifies first
	f.cls.failErr = llm.NewTransient("openai.chat", errors.New("flaky"))

	pool, err := NewPool(f.coord, 2, 8, nil)
	require.NoError(t, err)

	incidents := []*incident.Incident{
		incident.New("bad", "bad.txt", "raw"),
		incident.New("good", "good.txt", "raw"),
	}
	// Process sequentially via the pool to make the failure target stable.
	require.NoError(t, pool.ProcessBatch(context.Background(), incidents[:1]))

	pool2, err := NewPool(f.coord, 2, 8, nil)
	require.NoError(t, err)
	require.NoError(t, pool2.ProcessBatch(context.Background(), incidents[1:]))

	bad, _, err := f.store.Get("bad")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusFailed, bad.Status)

	good, _, err := f.store.Get("good")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusRCAWritten, good.Status)
}

func TestPoolSubmitAfterClose(t *testing.T) {
	f := newFixture(t, testConfig())
	pool, err := NewPool(f.coord, 1, 1, nil)
	require.NoError(t, err)
	pool.Close()

	err = pool.Submit(context.Background(), incident.New("x", "x.txt", "raw"))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig())
	pool, err := NewPool(f.coord, 1, 1, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Close()
		}()
	}
	wg.Wait()
	pool.Close()

	err = pool.Submit(context.Background(), incident.New("x", "x.txt", "raw"))
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolQueueGaugeSettlesAfterCancel(t *testing.T) {
	f := newFixture(t, testConfig())
	pool, err := NewPool(f.coord, 1, 8, nil)
	require.NoError(t, err)

	before := testutil.ToFloat64(queueDepth)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("q_%d", i)
		require.NoError(t, pool.Submit(context.Background(), incident.New(id, id+".txt", "raw")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pool.Run(ctx), context.Canceled)

	assert.Equal(t, before, testutil.ToFloat64(queueDepth),
		"jobs abandoned by cancellation must leave the gauge")
}

func TestPoolValidation(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := NewPool(f.coord, 0, 1, nil)
	assert.Error(t, err)
	_, err = NewPool(f.coord, 1, 0, nil)
	assert.Error(t, err)
}

func TestFailureNotification(t *testing.T) {
	f := newFixture(t, testConfig())
	f.sim.failFirst = 1000
	f.sim.failErr = llm.NewPermanent("openai.chat", errors.New("bad request"))

	_, err := f.coord.Process(context.Background(), incident.New("log_9", "log_9.txt", "raw"))
	require.Error(t, err)

	kinds := f.notifier.seen()
	require.NotEmpty(t, kinds)
	assert.Equal(t, notify.EventFailed, kinds[len(kinds)-1])
}

func TestProcessManyIncidentsIndependently(t *testing.T) {
	f := newFixture(t, testConfig())

	pool, err := NewPool(f.coord, 4, 16, nil)
	require.NoError(t, err)

	var incidents []*incident.Incident
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("log_%d", i)
		incidents = append(incidents, incident.New(id, id+".txt", "raw "+id))
	}
	require.NoError(t, pool.ProcessBatch(context.Background(), incidents))

	all, err := f.store.List()
	require.NoError(t, err)
	require.Len(t, all, 10)
	for _, inc := range all {
		assert.Equal(t, incident.StatusRCAWritten, inc.Status)
	}
}
