package simulation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/recovery-room/internal/decode"
	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/observability"
	"github.com/ashureev/recovery-room/internal/proctor"
	"github.com/ashureev/recovery-room/internal/report"
	"github.com/google/uuid"
)

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrRunMismatch means the caller addressed a run this session no
	// longer holds, typically a tab that missed a reset.
	ErrRunMismatch = errors.New("request targets a different run")
)

type expectedRunKey struct{}

// WithExpectedRun scopes Submit and SubmitSurvey calls made with ctx to
// runID. An empty runID leaves ctx unscoped.
func WithExpectedRun(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, expectedRunKey{}, runID)
}

func (s *Session) checkRunLocked(ctx context.Context) error {
	want, _ := ctx.Value(expectedRunKey{}).(string)
	if want != "" && want != s.state.RunID {
		return ErrRunMismatch
	}
	return nil
}

// Config wires a Session to its collaborators.
type Config struct {
	UserID    string
	Gateway   proctor.Gateway
	Compiler  *report.Compiler
	Rules     Rules
	Observers []Observer
	Logger    *slog.Logger

	// Now and NewRunID are overridable for tests.
	Now      func() time.Time
	NewRunID func() string
}

// Session owns one State and executes the effects its transitions return.
// Gateway calls run on their own goroutines; results are applied under the
// session lock and dropped when their generation is stale.
type Session struct {
	userID    string
	gateway   proctor.Gateway
	compiler  *report.Compiler
	rules     Rules
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
	newRunID  func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	lastActive time.Time
	closed     bool
	subs       map[int]chan Snapshot
	nextSub    int
}

// NewSession returns a session in the Selecting phase.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewString
	}
	if cfg.Compiler == nil {
		cfg.Compiler = report.NewCompiler(cfg.Gateway, cfg.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		userID:     cfg.UserID,
		gateway:    cfg.Gateway,
		compiler:   cfg.Compiler,
		rules:      cfg.Rules,
		observers:  cfg.Observers,
		logger:     cfg.Logger.With("user_id", cfg.UserID),
		now:        cfg.Now,
		newRunID:   cfg.NewRunID,
		ctx:        ctx,
		cancel:     cancel,
		state:      State{Phase: PhaseSelecting},
		lastActive: cfg.Now(),
		subs:       make(map[int]chan Snapshot),
	}
}

// Start selects a scenario and requests the guest's opening outburst. ctx only
// contributes its trace; the request runs under the session's lifetime.
func (s *Session) Start(ctx context.Context, scenario domain.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	next, effects, err := s.rules.Start(s.state, s.newRunID(), scenario)
	if err != nil {
		return err
	}
	s.lastActive = s.now()
	s.commitLocked(next, "")
	s.dispatchLocked(observability.DetachTraceContextFrom(ctx, s.ctx), effects)
	s.logger.InfoContext(ctx, "Session started", "run_id", next.RunID, "scenario", scenario)
	return nil
}

// Submit records a student turn and requests the guest's reply.
func (s *Session) Submit(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.checkRunLocked(ctx); err != nil {
		return err
	}

	now := s.now()
	next, effects, err := s.rules.SubmitStudent(s.state, text, now)
	if err != nil {
		return err
	}
	s.lastActive = now
	s.commitLocked(next, "")
	s.dispatchLocked(observability.DetachTraceContextFrom(ctx, s.ctx), effects)
	return nil
}

// SubmitSurvey attaches the self-reflection survey to the finished session.
func (s *Session) SubmitSurvey(ctx context.Context, survey domain.SurveyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.checkRunLocked(ctx); err != nil {
		return err
	}

	now := s.now()
	if survey.SubmittedAt.IsZero() {
		survey.SubmittedAt = now
	}
	next, err := s.rules.SubmitSurvey(s.state, survey)
	if err != nil {
		return err
	}
	s.lastActive = now
	s.commitLocked(next, "")
	return nil
}

// Reset discards the encounter. In-flight results for it are ignored.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lastActive = s.now()
	s.commitLocked(s.rules.Reset(s.state), "")
}

// Snapshot returns the current presentation view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Report returns the compiled report and the survey, if any.
func (s *Session) Report() (domain.ReportRecord, *domain.SurveyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state.clone()
	if st.Report == nil {
		return domain.ReportRecord{}, nil, false
	}
	return *st.Report, st.Survey, true
}

// LastActive is the time of the last student action.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Subscribe returns a channel that always holds the latest snapshot. Slow
// readers skip intermediate snapshots. The returned func unsubscribes.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.state.Snapshot()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// Close cancels in-flight calls, closes subscriptions and waits for effect
// goroutines to finish. An active encounter is reported as abandoned.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.state.Phase == PhaseActive {
		ev := Event{
			Kind:       EventAbandoned,
			UserID:     s.userID,
			RunID:      s.state.RunID,
			Scenario:   s.state.Scenario,
			At:         s.now(),
			AngerLevel: s.state.AngerLevel,
			Status:     s.state.Status,
		}
		s.emitLocked(ev)
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Wait blocks until no effect goroutine is running.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) commitLocked(next State, raw string) {
	prev := s.state
	s.state = next
	for _, ev := range diff(prev, next, s.userID, raw, s.now()) {
		s.emitLocked(ev)
	}
	s.publishLocked(next.Snapshot())
}

func (s *Session) emitLocked(ev Event) {
	for _, o := range s.observers {
		o.Observe(s.ctx, ev)
	}
}

func (s *Session) publishLocked(snap Snapshot) {
	for _, ch := range s.subs {
		// Buffer of one; only the latest snapshot matters.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Session) dispatchLocked(ctx context.Context, effects []Effect) {
	for _, eff := range effects {
		s.wg.Add(1)
		switch e := eff.(type) {
		case RequestTurnEffect:
			go s.runTurn(ctx, e)
		case RequestAuditEffect:
			go s.runAudit(ctx, e)
		default:
			s.wg.Done()
			s.logger.Error("unknown effect", "effect", eff)
		}
	}
}

func (s *Session) runTurn(ctx context.Context, eff RequestTurnEffect) {
	defer s.wg.Done()

	raw, err := s.gateway.RequestTurn(ctx, eff.Request)
	var reply decode.Turn
	if err != nil {
		s.logger.Warn("persona turn request failed", "generation", eff.Generation, "error", err)
	} else if reply, err = decode.DecodeTurn(raw); err != nil {
		s.logger.Warn("persona reply rejected",
			"generation", eff.Generation,
			"error", err,
			"raw", decode.Preview(raw))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	var (
		next    State
		effects []Effect
	)
	if err != nil {
		next, effects, err = s.rules.ApplyTurnFailure(s.state, eff.Generation, s.now())
	} else {
		next, effects, err = s.rules.ApplyTurn(s.state, eff.Generation, reply, s.now())
	}
	if err != nil {
		s.logger.Debug("discarding turn result", "generation", eff.Generation, "error", err)
		return
	}
	s.commitLocked(next, raw)
	s.dispatchLocked(ctx, effects)

	if next.Phase == PhaseTerminal {
		s.logger.Info("Session reached terminal status",
			"run_id", next.RunID,
			"status", next.Status,
			"anger_level", next.AngerLevel,
			"turns", len(next.Turns))
	}
}

func (s *Session) runAudit(ctx context.Context, eff RequestAuditEffect) {
	defer s.wg.Done()

	rec := s.compiler.Compile(ctx, eff.Request, eff.Status, eff.FinalAnger)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	next, err := s.rules.ApplyReport(s.state, eff.Generation, rec)
	if err != nil {
		s.logger.Debug("discarding report", "generation", eff.Generation, "error", err)
		return
	}
	s.commitLocked(next, "")
	s.logger.Info("Report compiled",
		"run_id", next.RunID,
		"outcome", rec.Outcome,
		"score", rec.Score,
		"fallback", rec.Fallback)
}
