package simulation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/proctor"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// The genai client pulls in opencensus, which starts a stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type reply struct {
	raw string
	err error
}

// fakeGateway replays scripted replies. When gate is set, RequestTurn waits
// for a value on it before answering.
type fakeGateway struct {
	mu     sync.Mutex
	turns  []reply
	audits []reply
	gate   chan struct{}

	turnRequests  []proctor.TurnRequest
	auditRequests int
}

func (f *fakeGateway) RequestTurn(ctx context.Context, req proctor.TurnRequest) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turnRequests = append(f.turnRequests, req)
	if len(f.turns) == 0 {
		return "", errors.New("no scripted turn")
	}
	r := f.turns[0]
	f.turns = f.turns[1:]
	return r.raw, r.err
}

func (f *fakeGateway) RequestAudit(context.Context, proctor.AuditRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditRequests++
	if len(f.audits) == 0 {
		return "", proctor.ErrGatewayUnavailable
	}
	r := f.audits[0]
	f.audits = f.audits[1:]
	return r.raw, r.err
}

func (f *fakeGateway) auditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auditRequests
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(_ context.Context, ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestSession(t *testing.T, gw proctor.Gateway, observers ...Observer) *Session {
	t.Helper()
	s := NewSession(Config{
		UserID:    "student-1",
		Gateway:   gw,
		Observers: observers,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewRunID:  func() string { return "run-1" },
	})
	t.Cleanup(s.Close)
	return s
}

const (
	bootstrapRaw = `Sure! {"thought_process":"start","anger_level":9,"spoken_response":"MY MEAL HAD MEAT IN IT!","instant_feedback":null,"status":"active"}`
	calmerRaw    = "```json\n{\"thought_process\":\"listened\",\"anger_level\":6,\"spoken_response\":\"Fine. Go on.\",\"instant_feedback\":\"Good listening.\",\"status\":\"active\"}\n```"
	resolvedRaw  = `{"thought_process":"done","anger_level":1,"spoken_response":"Thank you.","instant_feedback":"Well done.","status":"resolved"}`
	auditRaw     = `{"scenario":"The Dining Disaster","outcome":"RESOLVED","final_anger":1,"score":5,"summary":"You did well.","audit":[
		{"step_code":"L","step_name":"Listen","status":"Pass","feedback":"You listened."},
		{"step_code":"E","step_name":"Empathize","status":"Pass","feedback":"You empathized."},
		{"step_code":"A","step_name":"Apologize","status":"Pass","feedback":"You apologized."},
		{"step_code":"R","step_name":"React","status":"Pass","feedback":"You reacted."},
		{"step_code":"N","step_name":"Notify","status":"Pass","feedback":"You notified."}]}`
)

func TestSessionFullEncounter(t *testing.T) {
	gw := &fakeGateway{
		turns:  []reply{{raw: bootstrapRaw}, {raw: calmerRaw}, {raw: resolvedRaw}},
		audits: []reply{{raw: auditRaw}},
	}
	log := &eventLog{}
	s := newTestSession(t, gw, log)

	if err := s.Start(context.Background(), domain.ScenarioDiningDisaster); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Wait()

	snap := s.Snapshot()
	if snap.Phase != PhaseActive || len(snap.Turns) != 1 || *snap.AngerLevel != 9 {
		t.Fatalf("unexpected snapshot after bootstrap: %+v", snap)
	}
	if snap.Turns[0].CoachingNote != "" {
		t.Fatal("coaching must be hidden on the bootstrap turn")
	}

	if err := s.Submit(context.Background(), "I'm so sorry, please tell me what happened."); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s.Wait()
	if err := s.Submit(context.Background(), "I will bring a fresh vegetarian plate right away."); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s.Wait()

	snap = s.Snapshot()
	if snap.Phase != PhaseTerminal || snap.Status != domain.StatusResolved || !snap.ReportReady {
		t.Fatalf("expected terminal session with report: %+v", snap)
	}
	if len(snap.Turns) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(snap.Turns))
	}
	if snap.Turns[2].CoachingNote != "Good listening." {
		t.Fatalf("coaching note missing: %+v", snap.Turns[2])
	}

	rec, survey, ok := s.Report()
	if !ok || rec.Fallback || rec.Score != 5 || len(rec.Audit) != 5 || survey != nil {
		t.Fatalf("unexpected report: %+v", rec)
	}
	if n := gw.auditCount(); n != 1 {
		t.Fatalf("expected exactly one audit request, got %d", n)
	}

	if err := s.Submit(context.Background(), "Anything else?"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}

	if err := s.SubmitSurvey(context.Background(), domain.SurveyRecord{Ratings: [5]int{5, 5, 5, 5, 5}, Reflection: "Kept my own voice."}); err != nil {
		t.Fatalf("SubmitSurvey: %v", err)
	}

	want := []EventKind{
		EventStarted, EventTurn,
		EventTurn, EventTurn,
		EventTurn, EventTurn, EventTerminal,
		EventReport, EventSurvey,
	}
	got := log.kinds()
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}
	if log.events[1].Raw != bootstrapRaw {
		t.Fatalf("guest turn event should carry raw output")
	}
}

func TestSessionGatewayFailureRecovers(t *testing.T) {
	gw := &fakeGateway{turns: []reply{
		{raw: bootstrapRaw},
		{err: proctor.ErrGatewayUnavailable},
		{raw: "I refuse to answer in JSON."},
		{raw: calmerRaw},
	}}
	s := newTestSession(t, gw)

	if err := s.Start(context.Background(), domain.ScenarioTechFailure); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Wait()

	for i := 0; i < 2; i++ {
		if err := s.Submit(context.Background(), "Please let me help."); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		s.Wait()

		snap := s.Snapshot()
		last := snap.Turns[len(snap.Turns)-1]
		if !last.Synthetic || last.Text != TurnFailureReply {
			t.Fatalf("expected synthetic reply, got %+v", last)
		}
		if *snap.AngerLevel != 9 || snap.Status != domain.StatusActive {
			t.Fatalf("failure must not move anger or status: %+v", snap)
		}
	}

	if err := s.Submit(context.Background(), "Please let me help."); err != nil {
		t.Fatalf("retry: %v", err)
	}
	s.Wait()
	if snap := s.Snapshot(); *snap.AngerLevel != 6 || len(snap.Turns) != 7 {
		t.Fatalf("retry should succeed: %+v", snap)
	}

	// The synthetic turns are replayed to the service.
	last := gw.turnRequests[len(gw.turnRequests)-1]
	if len(last.History) != 6 || !last.History[2].Synthetic {
		t.Fatalf("unexpected history on retry: %+v", last.History)
	}
}

func TestSessionRejectsConcurrentSubmit(t *testing.T) {
	gw := &fakeGateway{
		turns: []reply{{raw: bootstrapRaw}, {raw: calmerRaw}},
		gate:  make(chan struct{}),
	}
	s := newTestSession(t, gw)

	if err := s.Start(context.Background(), domain.ScenarioFinancialShock); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Submit(context.Background(), "hello?"); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight during bootstrap, got %v", err)
	}
	gw.gate <- struct{}{}
	s.Wait()

	if err := s.Submit(context.Background(), "I see the double charge."); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Submit(context.Background(), "Are you there?"); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}
	if snap := s.Snapshot(); !snap.Pending || len(snap.Turns) != 2 {
		t.Fatalf("student turn should be visible while pending: %+v", snap)
	}
	gw.gate <- struct{}{}
	s.Wait()
}

func TestSessionResetDropsLateReply(t *testing.T) {
	gw := &fakeGateway{
		turns: []reply{{raw: bootstrapRaw}, {raw: calmerRaw}},
		gate:  make(chan struct{}),
	}
	log := &eventLog{}
	s := newTestSession(t, gw, log)

	if err := s.Start(context.Background(), domain.ScenarioPrivacyBreach); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Reset()
	gw.gate <- struct{}{}
	s.Wait()

	snap := s.Snapshot()
	if snap.Phase != PhaseSelecting || len(snap.Turns) != 0 || snap.Generation != 1 {
		t.Fatalf("late reply leaked into reset session: %+v", snap)
	}

	if err := s.Start(context.Background(), domain.ScenarioTechFailure); err != nil {
		t.Fatalf("restart: %v", err)
	}
	gw.gate <- struct{}{}
	s.Wait()
	if snap := s.Snapshot(); snap.Scenario.ID != domain.ScenarioTechFailure || len(snap.Turns) != 1 {
		t.Fatalf("unexpected restarted session: %+v", snap)
	}

	kinds := log.kinds()
	if kinds[0] != EventStarted || kinds[1] != EventReset || kinds[2] != EventStarted {
		t.Fatalf("unexpected event order: %v", kinds)
	}
}

func TestSessionFallbackReport(t *testing.T) {
	gw := &fakeGateway{turns: []reply{{raw: bootstrapRaw}, {raw: resolvedRaw}}}
	s := newTestSession(t, gw)

	if err := s.Start(context.Background(), domain.ScenarioDiningDisaster); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Wait()
	if err := s.Submit(context.Background(), "I'm sorry."); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s.Wait()

	rec, _, ok := s.Report()
	if !ok {
		t.Fatal("expected a report even when the audit fails")
	}
	if !rec.Fallback || rec.Outcome != domain.OutcomeFailed || rec.Score != 0 || len(rec.Audit) != 0 {
		t.Fatalf("unexpected fallback: %+v", rec)
	}
}

func TestSessionSubscribe(t *testing.T) {
	gw := &fakeGateway{turns: []reply{{raw: bootstrapRaw}}}
	s := newTestSession(t, gw)

	ch, unsubscribe := s.Subscribe()
	first := <-ch
	if first.Phase != PhaseSelecting {
		t.Fatalf("expected initial selecting snapshot, got %s", first.Phase)
	}

	if err := s.Start(context.Background(), domain.ScenarioDiningDisaster); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Wait()

	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-ch:
			if len(snap.Turns) == 1 {
				unsubscribe()
				unsubscribe()
				if _, open := <-ch; open {
					t.Fatal("channel should be closed after unsubscribe")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for bootstrap snapshot")
		}
	}
}

func TestSessionCloseAbandonsActiveRun(t *testing.T) {
	gw := &fakeGateway{turns: []reply{{raw: bootstrapRaw}}, gate: make(chan struct{})}
	log := &eventLog{}
	s := newTestSession(t, gw, log)

	if err := s.Start(context.Background(), domain.ScenarioTechFailure); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Close()

	kinds := log.kinds()
	if kinds[len(kinds)-1] != EventAbandoned {
		t.Fatalf("expected abandoned event, got %v", kinds)
	}
	if err := s.Submit(context.Background(), "hello"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}
