package approvals_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bdobrica/Sekimori/internal/sekimori/approvals"
	"github.com/bdobrica/Sekimori/internal/sekimori/oracle"
	"github.com/bdobrica/Sekimori/internal/sekimori/policy"
	"github.com/bdobrica/Sekimori/internal/sekimori/store"
)

// stubOracle returns canned answers so ledger tests run without a network.
type stubOracle struct {
	mu             sync.Mutex
	assessment     *oracle.Assessment
	assessErr      error
	recommendation *oracle.Recommendation
	recommendErr   error
	assessCalls    int
}

func (s *stubOracle) Assess(ctx context.Context, in oracle.AssessInput) (*oracle.Assessment, error) {
	s.mu.Lock()
	s.assessCalls++
	s.mu.Unlock()
	if s.assessErr != nil {
		return nil, s.assessErr
	}
	a := *s.assessment
	return &a, nil
}

func (s *stubOracle) Recommend(ctx context.Context, in oracle.RecommendInput) (*oracle.Recommendation, error) {
	if s.recommendErr != nil {
		return nil, s.recommendErr
	}
	r := *s.recommendation
	return &r, nil
}

// recordingEvents captures broadcasts for assertions.
type recordingEvents struct {
	mu        sync.Mutex
	created   []string
	decided   []string
	cancelled []string
	expired   []string
}

func (r *recordingEvents) RequestCreated(req *approvals.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, req.ID)
}

func (r *recordingEvents) RequestDecided(req *approvals.Request, dec *approvals.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decided = append(r.decided, req.ID)
}

func (r *recordingEvents) RequestCancelled(req *approvals.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, req.ID)
}

func (r *recordingEvents) RequestExpired(req *approvals.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, req.ID)
}

func (r *recordingEvents) expiredIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.expired...)
}

func mediumAssessment() *oracle.Assessment {
	return &oracle.Assessment{
		RiskScore:        50,
		RiskCategory:     policy.RiskMedium,
		RequiresApproval: true,
		Reasoning:        "modifies user data",
		Factors:          []string{"destructive"},
	}
}

func newTestLedger(t *testing.T, provider oracle.Provider) (*approvals.Ledger, *store.Store, *recordingEvents) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "ledger-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()

	st, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	events := &recordingEvents{}
	ledger := approvals.NewLedger(st.DB(), provider, approvals.Config{
		Preferences: st,
		Events:      events,
		Audit:       st,
	})
	return ledger, st, events
}

// forceExpiry rewrites a request's deadline into the past.
func forceExpiry(t *testing.T, st *store.Store, id string) {
	t.Helper()
	_, err := st.DB().Exec(
		`UPDATE approval_requests SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-time.Minute), id)
	if err != nil {
		t.Fatalf("force expiry: %v", err)
	}
}

func TestCreate_Pending(t *testing.T) {
	ledger, _, events := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, err := ledger.Create(ctx, approvals.CreateInput{
		Action:      "file.delete",
		Description: "delete the quarterly report",
		Parameters:  map[string]any{"path": "/tmp/report.pdf"},
		UserID:      "alice",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if req.ID == "" {
		t.Error("expected non-empty ID")
	}
	if req.Status != approvals.StatusPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if !req.RequiresApproval || req.AutoApprove {
		t.Errorf("policy outcome = %v/%v, want true/false", req.RequiresApproval, req.AutoApprove)
	}
	if req.TimeoutMinutes != 15 {
		t.Errorf("timeout = %d, want 15", req.TimeoutMinutes)
	}
	if got := req.ExpiresAt.Sub(req.CreatedAt); got != 15*time.Minute {
		t.Errorf("expiry window = %s, want 15m", got)
	}
	if req.Priority != policy.PriorityMedium {
		t.Errorf("priority = %s, want medium", req.Priority)
	}
	if req.Category != policy.CategoryFile {
		t.Errorf("category = %s, want file", req.Category)
	}

	if len(events.created) != 1 || events.created[0] != req.ID {
		t.Errorf("created broadcasts = %v, want [%s]", events.created, req.ID)
	}

	got, err := ledger.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Parameters["path"] != "/tmp/report.pdf" {
		t.Errorf("parameters lost on round trip: %v", got.Parameters)
	}
	if got.Reasoning != "modifies user data" {
		t.Errorf("reasoning = %q", got.Reasoning)
	}
}

func TestCreate_AutoApproved(t *testing.T) {
	ledger, _, events := newTestLedger(t, &stubOracle{assessment: &oracle.Assessment{
		RiskScore:    10,
		RiskCategory: policy.RiskLow,
		Reasoning:    "read-only",
	}})
	ctx := context.Background()

	req, err := ledger.Create(ctx, approvals.CreateInput{Action: "app.focus", Description: "focus the editor"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if req.Status != approvals.StatusApproved {
		t.Errorf("status = %s, want approved", req.Status)
	}
	if !req.AutoApprove {
		t.Error("expected auto_approve true")
	}

	dec, err := ledger.GetDecision(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetDecision: %v", err)
	}
	if dec.Verdict != policy.VerdictApprove {
		t.Errorf("verdict = %s, want approve", dec.Verdict)
	}
	if dec.Reason != "auto-approved" {
		t.Errorf("reason = %q", dec.Reason)
	}
	if dec.Confidence != policy.AutoApproveConfidence {
		t.Errorf("confidence = %d, want %d", dec.Confidence, policy.AutoApproveConfidence)
	}

	// Auto-approved requests never announce themselves as pending work.
	if len(events.created) != 0 {
		t.Errorf("created broadcasts = %v, want none", events.created)
	}
	if len(events.decided) != 1 {
		t.Errorf("decided broadcasts = %v, want one", events.decided)
	}
}

func TestCreate_OracleFailureStoresNothing(t *testing.T) {
	stub := &stubOracle{assessErr: oracle.ErrUnavailable}
	ledger, st, _ := newTestLedger(t, stub)

	_, err := ledger.Create(context.Background(), approvals.CreateInput{Action: "file.delete"})
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	var count int
	if err := st.DB().QueryRow(`SELECT COUNT(*) FROM approval_requests`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty ledger after oracle failure, found %d rows", count)
	}
}

func TestCreate_EmptyActionSkipsOracle(t *testing.T) {
	stub := &stubOracle{assessment: mediumAssessment()}
	ledger, _, _ := newTestLedger(t, stub)

	_, err := ledger.Create(context.Background(), approvals.CreateInput{Action: "   "})
	if !errors.Is(err, approvals.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if stub.assessCalls != 0 {
		t.Errorf("oracle consulted %d times for invalid input", stub.assessCalls)
	}
}

func TestCreate_PreferencesApplied(t *testing.T) {
	ledger, st, _ := newTestLedger(t, &stubOracle{assessment: &oracle.Assessment{
		RiskScore:    70,
		RiskCategory: policy.RiskHigh,
	}})
	ctx := context.Background()

	prefs := &policy.Preferences{
		UserID:              "alice",
		AutoApproveHighRisk: false,
		MaxRiskThreshold:    50,
	}
	prefs.ApplyDefaults()
	if err := st.UpsertPreferences(ctx, prefs); err != nil {
		t.Fatalf("UpsertPreferences: %v", err)
	}

	req, err := ledger.Create(ctx, approvals.CreateInput{Action: "security.grant", UserID: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !req.RequiresApproval {
		t.Error("expected approval required for high risk with flag off")
	}
	if req.AutoApprove {
		t.Error("expected no auto-approval at score 70 with ceiling 50")
	}
	if req.TimeoutMinutes != 30 {
		t.Errorf("timeout = %d, want 30", req.TimeoutMinutes)
	}
}

func TestDecide_Approve(t *testing.T) {
	ledger, _, events := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, err := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dec, err := ledger.Decide(ctx, approvals.DecideInput{
		RequestID: req.ID,
		Verdict:   policy.VerdictApprove,
		Reason:    "reviewed and safe",
		UserID:    "bob",
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Confidence != policy.Confidence(policy.RiskMedium, policy.VerdictApprove) {
		t.Errorf("confidence = %d", dec.Confidence)
	}

	got, err := ledger.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approvals.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if len(events.decided) != 1 {
		t.Errorf("decided broadcasts = %v", events.decided)
	}
}

func TestDecide_SecondRulingLosesRace(t *testing.T) {
	ledger, _, _ := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})
	if _, err := ledger.Decide(ctx, approvals.DecideInput{
		RequestID: req.ID, Verdict: policy.VerdictApprove, Reason: "first",
	}); err != nil {
		t.Fatalf("first Decide: %v", err)
	}

	_, err := ledger.Decide(ctx, approvals.DecideInput{
		RequestID: req.ID, Verdict: policy.VerdictReject, Reason: "second",
	})
	var stateErr *approvals.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if stateErr.Status != approvals.StatusApproved {
		t.Errorf("reported status = %s, want approved", stateErr.Status)
	}
}

func TestDecide_ConcurrentExactlyOneWins(t *testing.T) {
	ledger, _, _ := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})

	const writers = 10
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdict := policy.VerdictApprove
			if i%2 == 1 {
				verdict = policy.VerdictReject
			}
			_, errs[i] = ledger.Decide(ctx, approvals.DecideInput{
				RequestID: req.ID, Verdict: verdict, Reason: "race",
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var stateErr *approvals.InvalidStateError
		if !errors.As(err, &stateErr) {
			t.Errorf("loser got %v, want InvalidStateError", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}

	got, err := ledger.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Status.Terminal() {
		t.Errorf("status = %s, want terminal", got.Status)
	}
}

func TestDecide_ModifyIsAdvisory(t *testing.T) {
	ledger, _, _ := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})

	mod, err := ledger.Decide(ctx, approvals.DecideInput{
		RequestID:              req.ID,
		Verdict:                policy.VerdictModify,
		Reason:                 "narrow the glob first",
		SuggestedModifications: map[string]any{"path": "/tmp/report-2026.pdf"},
	})
	if err != nil {
		t.Fatalf("Decide modify: %v", err)
	}
	if mod.SuggestedModifications["path"] != "/tmp/report-2026.pdf" {
		t.Errorf("modifications lost: %v", mod.SuggestedModifications)
	}

	got, err := ledger.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approvals.StatusPending {
		t.Fatalf("status after modify = %s, want pending", got.Status)
	}

	// A terminal ruling still closes the request afterwards, and becomes
	// the latest decision.
	if _, err := ledger.Decide(ctx, approvals.DecideInput{
		RequestID: req.ID, Verdict: policy.VerdictApprove, Reason: "modified version accepted",
	}); err != nil {
		t.Fatalf("Decide approve after modify: %v", err)
	}
	latest, err := ledger.GetDecision(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetDecision: %v", err)
	}
	if latest.Verdict != policy.VerdictApprove {
		t.Errorf("latest verdict = %s, want approve", latest.Verdict)
	}
}

func TestDecide_Validation(t *testing.T) {
	ledger, _, _ := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})

	_, err := ledger.Decide(ctx, approvals.DecideInput{RequestID: req.ID, Verdict: "escalate", Reason: "x"})
	if !errors.Is(err, approvals.ErrInvalidInput) {
		t.Errorf("unknown verdict: got %v, want ErrInvalidInput", err)
	}

	_, err = ledger.Decide(ctx, approvals.DecideInput{RequestID: req.ID, Verdict: policy.VerdictApprove, Reason: "  "})
	if !errors.Is(err, approvals.ErrInvalidInput) {
		t.Errorf("empty reason: got %v, want ErrInvalidInput", err)
	}

	_, err = ledger.Decide(ctx, approvals.DecideInput{RequestID: "no-such-id", Verdict: policy.VerdictApprove, Reason: "x"})
	if !errors.Is(err, approvals.ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestCancel(t *testing.T) {
	ledger, _, events := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})

	got, err := ledger.Cancel(ctx, req.ID, "alice")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != approvals.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if len(events.cancelled) != 1 {
		t.Errorf("cancelled broadcasts = %v", events.cancelled)
	}

	// Cancellation is a withdrawal, not a ruling: no decision exists.
	if _, err := ledger.GetDecision(ctx, req.ID); !errors.Is(err, approvals.ErrNotFound) {
		t.Errorf("GetDecision after cancel: got %v, want ErrNotFound", err)
	}

	_, err = ledger.Cancel(ctx, req.ID, "alice")
	var stateErr *approvals.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Errorf("second cancel: got %v, want InvalidStateError", err)
	}
}

func TestExpiry_LazyOnObservation(t *testing.T) {
	ledger, st, events := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})
	forceExpiry(t, st, req.ID)

	got, err := ledger.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approvals.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if ids := events.expiredIDs(); len(ids) != 1 || ids[0] != req.ID {
		t.Errorf("expired broadcasts = %v", ids)
	}
}

func TestExpiry_BlocksDecision(t *testing.T) {
	ledger, st, _ := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})
	forceExpiry(t, st, req.ID)

	_, err := ledger.Decide(ctx, approvals.DecideInput{
		RequestID: req.ID, Verdict: policy.VerdictApprove, Reason: "too late",
	})
	var stateErr *approvals.InvalidStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if stateErr.Status != approvals.StatusExpired {
		t.Errorf("reported status = %s, want expired", stateErr.Status)
	}
}

func TestExpireStale_Sweep(t *testing.T) {
	ledger, st, _ := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	stale, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})
	fresh, _ := ledger.Create(ctx, approvals.CreateInput{Action: "network.connect"})
	forceExpiry(t, st, stale.ID)

	expired, err := ledger.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != stale.ID {
		t.Fatalf("expired = %v, want just %s", expired, stale.ID)
	}

	pending, err := ledger.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Errorf("pending = %v, want just %s", pending, fresh.ID)
	}
}

func TestListByUser(t *testing.T) {
	ledger, _, _ := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	a1, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete", UserID: "alice"})
	if _, err := ledger.Create(ctx, approvals.CreateInput{Action: "file.move", UserID: "bob"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := ledger.Decide(ctx, approvals.DecideInput{
		RequestID: a1.ID, Verdict: policy.VerdictReject, Reason: "no",
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	reqs, err := ledger.ListByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(reqs) != 1 || reqs[0].ID != a1.ID {
		t.Fatalf("requests = %v, want just %s", reqs, a1.ID)
	}
	// Terminal requests stay visible in the per-user history.
	if reqs[0].Status != approvals.StatusRejected {
		t.Errorf("status = %s, want rejected", reqs[0].Status)
	}
}

func TestStats(t *testing.T) {
	ledger, _, _ := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	r1, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})
	if _, err := ledger.Create(ctx, approvals.CreateInput{Action: "file.move"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := ledger.Decide(ctx, approvals.DecideInput{
		RequestID: r1.ID, Verdict: policy.VerdictApprove, Reason: "ok",
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	st, err := ledger.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 2 {
		t.Errorf("total = %d, want 2", st.Total)
	}
	if st.ByStatus[approvals.StatusApproved] != 1 || st.ByStatus[approvals.StatusPending] != 1 {
		t.Errorf("by_status = %v", st.ByStatus)
	}
	if st.MeanRiskScore != 50 {
		t.Errorf("mean risk = %f, want 50", st.MeanRiskScore)
	}
	if st.Decided != 1 {
		t.Errorf("decided = %d, want 1", st.Decided)
	}
	if st.MeanDecisionLatencySeconds < 0 {
		t.Errorf("latency = %f, want >= 0", st.MeanDecisionLatencySeconds)
	}
}

func TestRecommend(t *testing.T) {
	ledger, _, _ := newTestLedger(t, &stubOracle{
		assessment: mediumAssessment(),
		recommendation: &oracle.Recommendation{
			Recommendation: policy.VerdictReject,
			Confidence:     80,
			Reasoning:      "path outside the workspace",
		},
	})
	ctx := context.Background()

	req, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete"})

	rec, err := ledger.Recommend(ctx, req.ID)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if rec.Recommendation != policy.VerdictReject || rec.Confidence != 80 {
		t.Errorf("recommendation = %+v", rec)
	}

	// Advisory only: the request is untouched.
	got, _ := ledger.Get(ctx, req.ID)
	if got.Status != approvals.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}

	if _, err := ledger.Recommend(ctx, "no-such-id"); !errors.Is(err, approvals.ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestAuditTrail(t *testing.T) {
	ledger, st, _ := newTestLedger(t, &stubOracle{assessment: mediumAssessment()})
	ctx := context.Background()

	req, _ := ledger.Create(ctx, approvals.CreateInput{Action: "file.delete", UserID: "alice"})
	if _, err := ledger.Decide(ctx, approvals.DecideInput{
		RequestID: req.ID, Verdict: policy.VerdictApprove, Reason: "ok", UserID: "bob",
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	entries, err := st.GetAuditLog(ctx, 10)
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Action != "request.decide" || entries[1].Action != "request.create" {
		t.Errorf("actions = %s, %s", entries[0].Action, entries[1].Action)
	}
	for _, e := range entries {
		if e.RequestID != req.ID {
			t.Errorf("entry %s references %q, want %q", e.Action, e.RequestID, req.ID)
		}
	}
	if !strings.HasPrefix(entries[1].Result, "pending") {
		t.Errorf("create result = %q, want pending", entries[1].Result)
	}
}
