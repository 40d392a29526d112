package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"modsy/internal/domain"
	"modsy/internal/voice"
)

func TestCommandPipelinePressReleaseDispatchesIntent(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	events := &fakeEventSink{}
	dispatcher := &fakeDispatcher{commandID: "cmd-1"}
	journal := &fakeJournal{}
	pipeline := newTestPipeline(bridge, &fakeRules{}, dispatcher, journal, events)

	var updates []string
	if err := pipeline.Press(context.Background(), func(text string) { updates = append(updates, text) }); err != nil {
		t.Fatalf("press failed: %v", err)
	}
	bridge.emit(domain.BridgeEvent{Kind: domain.BridgeEventPartial, Text: "girar supe"})
	bridge.emit(domain.BridgeEvent{Kind: domain.BridgeEventFinal, Text: "girar superior"})

	result, err := pipeline.Release(context.Background())
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if result.Transcript != "girar superior" || result.Intent != domain.IntentSuperior {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !result.Recognized || !result.Dispatched || result.CommandID != "cmd-1" {
		t.Fatalf("expected dispatched command: %+v", result)
	}
	if result.SessionID == "" {
		t.Fatalf("expected session id on result")
	}
	if got := dispatcher.snapshot(); len(got) != 1 || got[0] != domain.IntentSuperior {
		t.Fatalf("unexpected dispatches: %#v", got)
	}
	if len(updates) != 2 || len(events.partials) != 2 {
		t.Fatalf("expected partials forwarded to callback and sink")
	}

	records := journal.snapshot()
	if len(records) != 1 || records[0].ID != "cmd-1" || records[0].Source != domain.CommandSourceVoice {
		t.Fatalf("unexpected journal: %#v", records)
	}
	if records[0].StartedAt.IsZero() || records[0].EndedAt.Before(records[0].StartedAt) {
		t.Fatalf("unexpected journal timestamps: %+v", records[0])
	}
	if resolved := events.snapshotResults(); len(resolved) != 1 || resolved[0].Intent != domain.IntentSuperior {
		t.Fatalf("expected intent event, got %#v", resolved)
	}
}

func TestCommandPipelineReleaseWithoutSpeech(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	dispatcher := &fakeDispatcher{}
	journal := &fakeJournal{}
	pipeline := newTestPipeline(bridge, &fakeRules{}, dispatcher, journal, &fakeEventSink{})

	if err := pipeline.Press(context.Background(), nil); err != nil {
		t.Fatalf("press failed: %v", err)
	}
	result, err := pipeline.Release(context.Background())
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if result.Transcript != "" || result.Intent != domain.IntentNone || result.Recognized {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(dispatcher.snapshot()) != 0 {
		t.Fatalf("nothing should be dispatched")
	}
	if records := journal.snapshot(); len(records) != 1 || records[0].ID == "" {
		t.Fatalf("expected unrecognized attempt journaled with generated id: %#v", records)
	}
}

func TestCommandPipelineReleaseWithoutPress(t *testing.T) {
	t.Parallel()

	pipeline := newTestPipeline(newFakeBridge(), &fakeRules{}, &fakeDispatcher{}, &fakeJournal{}, &fakeEventSink{})

	_, err := pipeline.Release(context.Background())
	if !errors.Is(err, domain.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestCommandPipelineAppliesCorrectionsBeforeResolving(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	pipeline := newTestPipeline(bridge, &fakeRules{transform: "girar inferior"}, &fakeDispatcher{}, &fakeJournal{}, &fakeEventSink{})

	if err := pipeline.Press(context.Background(), nil); err != nil {
		t.Fatalf("press failed: %v", err)
	}
	bridge.emit(domain.BridgeEvent{Kind: domain.BridgeEventFinal, Text: "girar in feriô"})

	result, err := pipeline.Release(context.Background())
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if result.Transcript != "girar in feriô" || result.Corrected != "girar inferior" {
		t.Fatalf("unexpected transcripts: %+v", result)
	}
	if result.Intent != domain.IntentInferior {
		t.Fatalf("expected inferior, got %q", result.Intent)
	}
}

func TestCommandPipelineRulesFailureFallsBackToRaw(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	events := &fakeEventSink{}
	pipeline := newTestPipeline(bridge, &fakeRules{err: errors.New("bad rules")}, &fakeDispatcher{}, &fakeJournal{}, events)

	if err := pipeline.Press(context.Background(), nil); err != nil {
		t.Fatalf("press failed: %v", err)
	}
	bridge.emit(domain.BridgeEvent{Kind: domain.BridgeEventFinal, Text: "girar calçado"})

	result, err := pipeline.Release(context.Background())
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if result.Intent != domain.IntentFootwear {
		t.Fatalf("expected footwear from raw transcript, got %q", result.Intent)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeRules {
		t.Fatalf("expected rules error event, got %#v", errs)
	}
}

func TestCommandPipelineDispatchFailure(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	events := &fakeEventSink{}
	journal := &fakeJournal{}
	pipeline := newTestPipeline(bridge, &fakeRules{}, &fakeDispatcher{err: errors.New("device offline")}, journal, events)

	if err := pipeline.Press(context.Background(), nil); err != nil {
		t.Fatalf("press failed: %v", err)
	}
	bridge.emit(domain.BridgeEvent{Kind: domain.BridgeEventFinal, Text: "girar superior"})

	result, err := pipeline.Release(context.Background())
	if err == nil {
		t.Fatalf("expected dispatch error")
	}
	if result.Intent != domain.IntentSuperior || result.Dispatched {
		t.Fatalf("unexpected result: %+v", result)
	}
	if records := journal.snapshot(); len(records) != 1 || records[0].Error == "" {
		t.Fatalf("expected failure journaled: %#v", records)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeDispatch {
		t.Fatalf("expected dispatch error event, got %#v", errs)
	}
}

func TestCommandPipelineJournalFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	events := &fakeEventSink{}
	pipeline := newTestPipeline(bridge, &fakeRules{}, &fakeDispatcher{commandID: "c"}, &fakeJournal{err: errors.New("disk full")}, events)

	if err := pipeline.Press(context.Background(), nil); err != nil {
		t.Fatalf("press failed: %v", err)
	}
	bridge.emit(domain.BridgeEvent{Kind: domain.BridgeEventFinal, Text: "girar inferior"})

	result, err := pipeline.Release(context.Background())
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !result.Dispatched {
		t.Fatalf("expected dispatch despite journal failure")
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeJournal {
		t.Fatalf("expected journal error event, got %#v", errs)
	}
}

func TestCommandPipelineRotate(t *testing.T) {
	t.Parallel()

	dispatcher := &fakeDispatcher{commandID: "manual-1"}
	journal := &fakeJournal{}
	pipeline := newTestPipeline(newFakeBridge(), &fakeRules{}, dispatcher, journal, &fakeEventSink{})

	result, err := pipeline.Rotate(context.Background(), domain.IntentFootwear)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if !result.Dispatched || result.Intent != domain.IntentFootwear {
		t.Fatalf("unexpected result: %+v", result)
	}
	if records := journal.snapshot(); len(records) != 1 || records[0].Source != domain.CommandSourceManual {
		t.Fatalf("unexpected journal: %#v", records)
	}

	if _, err := pipeline.Rotate(context.Background(), domain.IntentNone); !errors.Is(err, domain.ErrNothingToDispatch) {
		t.Fatalf("expected ErrNothingToDispatch, got %v", err)
	}
}

func TestCommandPipelineConcurrentReleaseFinalizesOnce(t *testing.T) {
	t.Parallel()

	bridge := newFakeBridge()
	bridge.stopGate = make(chan struct{})
	events := &fakeEventSink{}
	journal := &fakeJournal{}
	pipeline := newTestPipeline(bridge, &fakeRules{}, &fakeDispatcher{commandID: "cmd-1"}, journal, events)

	if err := pipeline.Press(context.Background(), nil); err != nil {
		t.Fatalf("press failed: %v", err)
	}
	bridge.emit(domain.BridgeEvent{Kind: domain.BridgeEventFinal, Text: "girar inferior"})

	type outcome struct {
		result domain.CommandResult
		err    error
	}
	outcomes := make(chan outcome, 2)
	release := func() {
		result, err := pipeline.Release(context.Background())
		outcomes <- outcome{result: result, err: err}
	}

	go release()
	waitUntil(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return bridge.stopCalls == 1
	})
	go release()

	loser := <-outcomes
	if !errors.Is(loser.err, domain.ErrNoActiveSession) {
		t.Fatalf("expected second release to find no session, got %+v", loser)
	}

	close(bridge.stopGate)
	winner := <-outcomes
	if winner.err != nil || winner.result.Intent != domain.IntentInferior {
		t.Fatalf("unexpected winning release: %+v", winner)
	}
	if records := journal.snapshot(); len(records) != 1 {
		t.Fatalf("expected one journal record, got %#v", records)
	}
	if results := events.snapshotResults(); len(results) != 1 {
		t.Fatalf("expected one resolved intent, got %#v", results)
	}
}

func TestCommandPipelineWatchDeviceReportsCompletion(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	monitor := &fakeMonitor{command: domain.DeviceCommand{ID: "cmd-7", Section: domain.IntentSuperior, Status: domain.DeviceStatusDone}}
	pipeline := newTestPipeline(newFakeBridge(), &fakeRules{}, &fakeDispatcher{commandID: "cmd-7"}, &fakeJournal{}, events)
	pipeline.WatchDevice(monitor, time.Second, time.Millisecond)
	defer pipeline.Close()

	if _, err := pipeline.Rotate(context.Background(), domain.IntentSuperior); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	waitUntil(t, func() bool { return len(events.snapshotDevices()) == 1 })
	if got := events.snapshotDevices()[0]; got.Status != domain.DeviceStatusDone || got.ID != "cmd-7" {
		t.Fatalf("unexpected device event: %+v", got)
	}
	if ids := monitor.awaited(); len(ids) != 1 || ids[0] != "cmd-7" {
		t.Fatalf("expected the dispatched command to be awaited, got %#v", ids)
	}
	if errs := events.snapshotErrors(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %#v", errs)
	}
}

func TestCommandPipelineWatchDeviceReportsFailure(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	monitor := &fakeMonitor{
		command: domain.DeviceCommand{ID: "cmd-8", Section: domain.IntentFootwear, Status: domain.DeviceStatusFailed},
		err:     domain.ErrCommandFailed,
	}
	pipeline := newTestPipeline(newFakeBridge(), &fakeRules{}, &fakeDispatcher{commandID: "cmd-8"}, &fakeJournal{}, events)
	pipeline.WatchDevice(monitor, time.Second, time.Millisecond)
	defer pipeline.Close()

	if _, err := pipeline.Rotate(context.Background(), domain.IntentFootwear); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	waitUntil(t, func() bool { return len(events.snapshotErrors()) == 1 })
	errs := events.snapshotErrors()
	if errs[0].code != domain.ErrorCodeDevice || !strings.Contains(errs[0].detail, "calçado") {
		t.Fatalf("unexpected device error: %#v", errs)
	}
	if devices := events.snapshotDevices(); len(devices) != 1 || devices[0].Status != domain.DeviceStatusFailed {
		t.Fatalf("unexpected device events: %#v", devices)
	}
}

func TestCommandPipelineCloseStopsDeviceWatch(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	monitor := &fakeMonitor{block: true}
	pipeline := newTestPipeline(newFakeBridge(), &fakeRules{}, &fakeDispatcher{commandID: "cmd-9"}, &fakeJournal{}, events)
	pipeline.WatchDevice(monitor, time.Minute, time.Millisecond)

	if _, err := pipeline.Rotate(context.Background(), domain.IntentInferior); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	waitUntil(t, func() bool { return len(monitor.awaited()) == 1 })

	pipeline.Close()
	if devices := events.snapshotDevices(); len(devices) != 0 {
		t.Fatalf("expected no device events after close, got %#v", devices)
	}
	if errs := events.snapshotErrors(); len(errs) != 0 {
		t.Fatalf("expected no errors after close, got %#v", errs)
	}
}

func TestCommandPipelineWithoutMonitorDoesNotWatch(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	pipeline := newTestPipeline(newFakeBridge(), &fakeRules{}, &fakeDispatcher{commandID: "cmd-10"}, &fakeJournal{}, events)
	defer pipeline.Close()

	if _, err := pipeline.Rotate(context.Background(), domain.IntentInferior); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if devices := events.snapshotDevices(); len(devices) != 0 {
		t.Fatalf("unexpected device events: %#v", devices)
	}
}

func newTestPipeline(
	bridge *fakeBridge,
	rules *fakeRules,
	dispatcher *fakeDispatcher,
	journal *fakeJournal,
	events *fakeEventSink,
) *CommandPipeline {
	controller := NewSessionController(bridge, &fakeGate{granted: true}, events, nil, nil, Config{})
	return NewCommandPipeline(controller, rules, voice.NewResolver(voice.DefaultAliasTable()), dispatcher, journal, events, nil)
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	commandID string
	err       error
	intents   []domain.Intent
}

func (f *fakeDispatcher) Dispatch(_ context.Context, intent domain.Intent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.intents = append(f.intents, intent)
	return f.commandID, nil
}

func (f *fakeDispatcher) snapshot() []domain.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Intent(nil), f.intents...)
}

type fakeJournal struct {
	mu      sync.Mutex
	err     error
	records []domain.CommandRecord
}

func (f *fakeJournal) Record(_ context.Context, record domain.CommandRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]domain.CommandRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.records) {
		limit = len(f.records)
	}
	return append([]domain.CommandRecord(nil), f.records[:limit]...), nil
}

func (f *fakeJournal) Close() error { return nil }

func (f *fakeJournal) snapshot() []domain.CommandRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CommandRecord(nil), f.records...)
}

type fakeMonitor struct {
	mu      sync.Mutex
	command domain.DeviceCommand
	err     error
	block   bool
	ids     []string
}

func (f *fakeMonitor) Status(_ context.Context) (domain.DeviceCommand, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.command, f.command.ID != "", nil
}

func (f *fakeMonitor) AwaitCompletion(ctx context.Context, commandID string, _ time.Duration) (domain.DeviceCommand, error) {
	f.mu.Lock()
	f.ids = append(f.ids, commandID)
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.DeviceCommand{}, ctx.Err()
	}
	return f.command, f.err
}

func (f *fakeMonitor) awaited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
