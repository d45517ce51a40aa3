package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cementai/optimizer-agent/internal/db"
	"github.com/cementai/optimizer-agent/internal/executor"
	"github.com/cementai/optimizer-agent/internal/explain"
	"github.com/cementai/optimizer-agent/internal/models"
	"github.com/cementai/optimizer-agent/internal/policy"
)

// fakeStore serves canned recommendations and state, and collects audit rows.
type fakeStore struct {
	mu       sync.Mutex
	recs     []*models.Recommendation
	state    *models.ProcessState
	fetchErr error
	auditErr error
	audited  []*models.ActionRecord
}

func (f *fakeStore) GetLatestState(context.Context, string, string) (*models.ProcessState, error) {
	if f.state == nil {
		return nil, db.ErrNotFound
	}
	return f.state, nil
}

func (f *fakeStore) UpsertState(context.Context, *models.ProcessState) error { return nil }

func (f *fakeStore) GetRecentRecommendations(_ context.Context, _, _ string, limit int) ([]*models.Recommendation, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if limit > 0 && limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}

func (f *fakeStore) InsertRecommendation(context.Context, *models.Recommendation) error { return nil }

func (f *fakeStore) AppendActionRecord(_ context.Context, rec *models.ActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audited = append(f.audited, rec)
	return nil
}

func (f *fakeStore) QueryActionRecords(context.Context, db.AuditQuery) ([]*models.ActionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audited, nil
}

func (f *fakeStore) Close() error               { return nil }
func (f *fakeStore) Ping(context.Context) error { return nil }

// fakeExplainer fails for recommendation types listed in failTypes.
type fakeExplainer struct {
	failTypes map[string]bool
}

func (f *fakeExplainer) Explain(_ context.Context, rec *models.Recommendation, _ *models.ProcessState) (string, error) {
	if f.failTypes[rec.RecommendationType] {
		return "", explain.ErrExplanationUnavailable
	}
	return "because " + rec.ActionText, nil
}

func rec(tsOffset int, recType string, confidence float64, prio models.Priority) *models.Recommendation {
	return &models.Recommendation{
		PlantID:            "PLANT_01",
		LineID:             "LINE_A",
		Timestamp:          time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC).Add(-time.Duration(tsOffset) * time.Minute),
		RecommendationType: recType,
		ActionText:         fmt.Sprintf("action %d", tsOffset),
		ConfidenceScore:    confidence,
		Priority:           prio,
	}
}

func newOrchestrator(store *fakeStore, exp Explainer, cfg Config) *Orchestrator {
	exec := executor.New(store, nil, nil)
	eng := policy.NewEngine(policy.DefaultConfig())
	return New(store, eng, exp, exec, nil, nil, cfg)
}

func TestRunCycleMixedDecisions(t *testing.T) {
	store := &fakeStore{
		recs: []*models.Recommendation{
			rec(0, models.TypeEnergyExcess, 0.95, models.PriorityLow),     // auto
			rec(1, models.TypeEnergyExcess, 0.98, models.PriorityHigh),    // HIGH gate
			rec(2, models.TypePMRiskHigh, 0.99, models.PriorityLow),       // denylist
			rec(3, models.TypeStackHeatLoss, 0.80, models.PriorityMedium), // below threshold
		},
	}
	o := newOrchestrator(store, &fakeExplainer{}, DefaultConfig())

	result, err := o.RunCycle(context.Background(), "PLANT_01", "LINE_A", 0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(result.Items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(result.Items))
	}
	if result.CycleID == "" {
		t.Error("expected a cycle correlation ID")
	}

	wantStates := []ItemState{StateExecuted, StateDeferred, StateDeferred, StateDeferred}
	for i, want := range wantStates {
		if result.Items[i].State != want {
			t.Errorf("item %d: state = %s, want %s", i, result.Items[i].State, want)
		}
	}

	// Only the auto-approved item reaches the audit store, as SYSTEM_AUTO.
	if len(store.audited) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(store.audited))
	}
	if store.audited[0].ApprovedBy != models.ApproverSystemAuto {
		t.Errorf("expected SYSTEM_AUTO approver, got %s", store.audited[0].ApprovedBy)
	}

	// Deferred items carry PENDING_APPROVAL records awaiting a human.
	for _, i := range []int{1, 2, 3} {
		if result.Items[i].Action == nil || result.Items[i].Action.Status != models.StatusPendingApproval {
			t.Errorf("item %d: expected PENDING_APPROVAL action record", i)
		}
	}
}

func TestRunCyclePreservesFetchOrder(t *testing.T) {
	var recs []*models.Recommendation
	for i := 0; i < 8; i++ {
		recs = append(recs, rec(i, models.TypeEnergyExcess, 0.95, models.PriorityLow))
	}
	store := &fakeStore{recs: recs}
	o := newOrchestrator(store, &fakeExplainer{}, Config{FetchLimit: 10})

	result, err := o.RunCycle(context.Background(), "PLANT_01", "LINE_A", 10)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	for i := range result.Items {
		if result.Items[i].Recommendation != recs[i] {
			t.Fatalf("item %d out of fetch order", i)
		}
	}
}

func TestRunCycleParallelPreservesOrder(t *testing.T) {
	var recs []*models.Recommendation
	for i := 0; i < 12; i++ {
		recs = append(recs, rec(i, models.TypeEnergyExcess, 0.95, models.PriorityLow))
	}
	store := &fakeStore{recs: recs}
	o := newOrchestrator(store, &fakeExplainer{}, Config{FetchLimit: 20, Concurrency: 4})

	result, err := o.RunCycle(context.Background(), "PLANT_01", "LINE_A", 20)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(result.Items) != 12 {
		t.Fatalf("expected 12 items, got %d", len(result.Items))
	}
	for i := range result.Items {
		if result.Items[i].Recommendation != recs[i] {
			t.Fatalf("item %d out of fetch order under concurrency", i)
		}
	}
}

func TestRunCycleExplanationFailureDegrades(t *testing.T) {
	store := &fakeStore{
		recs: []*models.Recommendation{
			rec(0, models.TypeEnergyExcess, 0.95, models.PriorityLow),
			rec(1, models.TypeStackHeatLoss, 0.95, models.PriorityLow),
		},
	}
	exp := &fakeExplainer{failTypes: map[string]bool{models.TypeEnergyExcess: true}}
	o := newOrchestrator(store, exp, DefaultConfig())

	result, err := o.RunCycle(context.Background(), "PLANT_01", "LINE_A", 0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	// The failed explanation degrades to the sentinel and the item still
	// reaches Decide/Act.
	if result.Items[0].Explanation != models.ExplanationUnavailable {
		t.Errorf("expected sentinel explanation, got %q", result.Items[0].Explanation)
	}
	if result.Items[0].State != StateExecuted {
		t.Errorf("degraded item must still execute, got %s", result.Items[0].State)
	}

	// The other item is untouched.
	if result.Items[1].Explanation == models.ExplanationUnavailable {
		t.Error("healthy item must keep its explanation")
	}
	if result.Items[1].State != StateExecuted {
		t.Errorf("healthy item state = %s, want EXECUTED", result.Items[1].State)
	}
}

func TestRunCycleInvalidItemIsolated(t *testing.T) {
	bad := rec(1, models.TypeEnergyExcess, 0.95, models.PriorityLow)
	bad.PlantID = ""
	store := &fakeStore{
		recs: []*models.Recommendation{
			rec(0, models.TypeEnergyExcess, 0.95, models.PriorityLow),
			bad,
			rec(2, models.TypeEnergyExcess, 0.95, models.PriorityLow),
		},
	}
	o := newOrchestrator(store, &fakeExplainer{}, DefaultConfig())

	result, err := o.RunCycle(context.Background(), "PLANT_01", "LINE_A", 0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Items[1].State != StateInvalid {
		t.Errorf("expected INVALID for malformed item, got %s", result.Items[1].State)
	}
	if result.Items[1].Error == "" {
		t.Error("invalid item must carry its error")
	}
	if result.Items[0].State != StateExecuted || result.Items[2].State != StateExecuted {
		t.Error("neighbouring items must be unaffected by the invalid one")
	}
	if len(store.audited) != 2 {
		t.Errorf("expected 2 audit records, got %d", len(store.audited))
	}
}

func TestRunCycleAuditFailureNotExecuted(t *testing.T) {
	store := &fakeStore{
		recs:     []*models.Recommendation{rec(0, models.TypeEnergyExcess, 0.95, models.PriorityLow)},
		auditErr: errors.New("disk full"),
	}
	o := newOrchestrator(store, &fakeExplainer{}, DefaultConfig())

	result, err := o.RunCycle(context.Background(), "PLANT_01", "LINE_A", 0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	item := result.Items[0]
	if item.State == StateExecuted {
		t.Error("audit failure must not surface as EXECUTED")
	}
	if item.State != StateFailed {
		t.Errorf("expected FAILED, got %s", item.State)
	}
	if item.Action != nil {
		t.Error("failed item must carry no action record")
	}
	if item.Error == "" {
		t.Error("failed item must carry the audit error")
	}
}

func TestRunCycleEmptyFeed(t *testing.T) {
	store := &fakeStore{}
	o := newOrchestrator(store, &fakeExplainer{}, DefaultConfig())

	result, err := o.RunCycle(context.Background(), "PLANT_01", "LINE_A", 0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(result.Items) != 0 {
		t.Errorf("expected empty cycle, got %d items", len(result.Items))
	}
}

func TestRunCycleFetchFailureAborts(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("connection refused")}
	o := newOrchestrator(store, &fakeExplainer{}, DefaultConfig())

	if _, err := o.RunCycle(context.Background(), "PLANT_01", "LINE_A", 0); err == nil {
		t.Error("expected cycle-fatal error when fetch fails")
	}
}

func TestRunCycleCancelledBetweenItems(t *testing.T) {
	store := &fakeStore{
		recs: []*models.Recommendation{
			rec(0, models.TypeEnergyExcess, 0.95, models.PriorityLow),
			rec(1, models.TypeEnergyExcess, 0.95, models.PriorityLow),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel during the first item's explanation: the second item must not run.
	exp := &cancellingExplainer{cancel: cancel}
	o := newOrchestrator(store, exp, DefaultConfig())

	_, err := o.RunCycle(ctx, "PLANT_01", "LINE_A", 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if exp.calls != 1 {
		t.Errorf("expected processing to stop after cancellation, got %d explain calls", exp.calls)
	}
}

type cancellingExplainer struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingExplainer) Explain(context.Context, *models.Recommendation, *models.ProcessState) (string, error) {
	c.calls++
	c.cancel()
	return "text", nil
}
