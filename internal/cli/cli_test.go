package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/recovery-room/internal/config"
	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/proctor"
	"github.com/ashureev/recovery-room/internal/store"
)

const (
	bootstrapRaw = `{"thought_process":"start","anger_level":9,"spoken_response":"THE WIFI IS DOWN AGAIN!","instant_feedback":null,"status":"active"}`
	resolvedRaw  = `{"thought_process":"done","anger_level":1,"spoken_response":"Alright, thank you.","instant_feedback":"Good recovery.","status":"resolved"}`
	auditRaw     = `{"scenario":"The Tech Failure","outcome":"RESOLVED","final_anger":1,"score":5,"summary":"Calm and thorough.","audit":[
		{"step_code":"L","step_name":"Listen","status":"Pass","feedback":"ok"},
		{"step_code":"E","step_name":"Empathize","status":"Pass","feedback":"ok"},
		{"step_code":"A","step_name":"Apologize","status":"Pass","feedback":"ok"},
		{"step_code":"R","step_name":"React","status":"Pass","feedback":"ok"},
		{"step_code":"N","step_name":"Notify","status":"Pass","feedback":"ok"}]}`
)

type scriptedGateway struct {
	mu    sync.Mutex
	turns []string
}

func (g *scriptedGateway) RequestTurn(context.Context, proctor.TurnRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.turns) == 0 {
		return "", errors.New("no scripted turn")
	}
	raw := g.turns[0]
	g.turns = g.turns[1:]
	return raw, nil
}

func (g *scriptedGateway) RequestAudit(context.Context, proctor.AuditRequest) (string, error) {
	return auditRaw, nil
}

func testDeps(dbPath string, gw proctor.Gateway) Deps {
	return Deps{
		LoadConfig: func() (*config.Config, error) {
			return &config.Config{DBPath: dbPath, Simulation: config.SimulationConfig{EnforceThresholds: true}}, nil
		},
		OpenGateway: func(context.Context, config.ProctorConfig, *slog.Logger) (proctor.Gateway, func(), error) {
			return gw, func() {}, nil
		},
	}
}

func execute(t *testing.T, deps Deps, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScenariosCommand(t *testing.T) {
	out, err := execute(t, testDeps("", nil), "", "scenarios")
	if err != nil {
		t.Fatalf("scenarios: %v", err)
	}
	for _, s := range domain.Scenarios() {
		if !strings.Contains(out, string(s.ID)) || !strings.Contains(out, s.Title) {
			t.Fatalf("missing %s in output:\n%s", s.ID, out)
		}
	}
}

func TestPlayAndExport(t *testing.T) {
	t.Setenv("USER", "tester")
	dbPath := filepath.Join(t.TempDir(), "rr.db")
	deps := testDeps(dbPath, &scriptedGateway{turns: []string{bootstrapRaw, resolvedRaw}})

	stdin := "\nI'm so sorry, I will reset the router and comp your night.\n9\n5\n4\n3\n2\n1\nI rewrote the coach's apology.\n"
	out, err := execute(t, deps, stdin, "play", "--scenario", "tech_failure", "--raw")
	if err != nil {
		t.Fatalf("play: %v\n%s", err, out)
	}
	for _, want := range []string{
		"THE WIFI IS DOWN AGAIN!",
		"Alright, thank you.",
		"Coach: Good recovery.",
		"Encounter RESOLVED.",
		"Calm and thorough.",
		"Survey recorded.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("play output missing %q:\n%s", want, out)
		}
	}

	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	runs, err := repo.ListRuns(context.Background(), "cli-tester", 10)
	_ = repo.Close()
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one stored run, got %d (%v)", len(runs), err)
	}

	out, err = execute(t, deps, "", "export", "--session", runs[0].RunID, "--db", dbPath, "--raw")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, want := range []string{"Calm and thorough.", "I rewrote the coach's apology.", "Generated by The Recovery Room"} {
		if !strings.Contains(out, want) {
			t.Fatalf("export output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, deps, "", "export", "--session", "missing", "--db", dbPath); err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestPlayQuitAbandons(t *testing.T) {
	t.Setenv("USER", "tester")
	dbPath := filepath.Join(t.TempDir(), "rr.db")
	deps := testDeps(dbPath, &scriptedGateway{turns: []string{bootstrapRaw}})

	out, err := execute(t, deps, "/quit\n", "play", "--scenario", "tech_failure")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if !strings.Contains(out, "Encounter abandoned.") {
		t.Fatalf("expected abandon message:\n%s", out)
	}

	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer func() { _ = repo.Close() }()
	runs, err := repo.ListRuns(context.Background(), "cli-tester", 10)
	if err != nil || len(runs) != 1 || runs[0].Status != domain.RunAbandoned {
		t.Fatalf("expected one abandoned run, got %+v (%v)", runs, err)
	}
}

func TestPlayRejectsUnknownScenario(t *testing.T) {
	if _, err := execute(t, testDeps("", nil), "", "play", "--scenario", "spa_meltdown"); !errors.Is(err, domain.ErrUnknownScenario) {
		t.Fatalf("expected ErrUnknownScenario, got %v", err)
	}
}
