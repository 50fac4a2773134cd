package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/recovery-room/internal/domain"
	"github.com/ashureev/recovery-room/internal/report"
	"github.com/ashureev/recovery-room/internal/simulation"
	"github.com/ashureev/recovery-room/internal/store"
	"github.com/spf13/cobra"
)

const quitCommand = "/quit"

type playOptions struct {
	scenario   string
	skipSurvey bool
	raw        bool
	noStore    bool
}

func newPlayCommand(deps Deps, root *rootOptions) *cobra.Command {
	opts := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play an encounter against the configured persona service",
		Long: `Play an encounter in the terminal. Type replies to the guest; ` + quitCommand + `
abandons the encounter. When the guest is calmed or gives up, the proctor's
LEARN audit is shown and the self-reflection survey follows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlay(cmd, deps, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.scenario, "scenario", "s", "", "Scenario id (see rrctl scenarios)")
	cmd.Flags().BoolVar(&opts.skipSurvey, "skip-survey", false, "Do not ask the self-reflection survey")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print the report as plain Markdown")
	cmd.Flags().BoolVar(&opts.noStore, "no-store", false, "Do not record the encounter in DB_PATH")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runPlay(cmd *cobra.Command, deps Deps, root *rootOptions, opts *playOptions) error {
	scenario, err := domain.ParseScenario(opts.scenario)
	if err != nil {
		return err
	}
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	ctx := cmd.Context()
	logger := root.logger(cmd.ErrOrStderr())

	gateway, closeGateway, err := deps.OpenGateway(ctx, cfg.Proctor, logger)
	if err != nil {
		return fmt.Errorf("open %s gateway: %w", cfg.Proctor.Provider, err)
	}
	defer closeGateway()

	userID := localUserID()
	var observers []simulation.Observer
	if !opts.noStore {
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()
		now := time.Now()
		if err := repo.UpsertStudent(ctx, &domain.Student{
			UserID: userID, Username: userID, LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		observers = append(observers, store.NewRecorder(repo, logger))
	}

	sess := simulation.NewSession(simulation.Config{
		UserID:    userID,
		Gateway:   gateway,
		Rules:     simulation.Rules{EnforceThresholds: cfg.Simulation.EnforceThresholds},
		Observers: observers,
		Logger:    logger,
	})
	defer sess.Close()

	p := &player{
		sess: sess,
		in:   bufio.NewScanner(cmd.InOrStdin()),
		out:  cmd.OutOrStdout(),
		opts: opts,
	}
	return p.run(ctx, scenario)
}

func localUserID() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli-" + u
	}
	return "cli-local"
}

type player struct {
	sess  *simulation.Session
	in    *bufio.Scanner
	out   io.Writer
	opts  *playOptions
	shown int
}

func (p *player) run(ctx context.Context, scenario domain.Scenario) error {
	desc := scenario.Descriptor()
	fmt.Fprintln(p.out, titleStyle.Render(desc.Title))
	fmt.Fprintf(p.out, "%s\n\n", desc.Description)

	if err := p.sess.Start(ctx, scenario); err != nil {
		return err
	}
	p.sess.Wait()
	p.printNew()

	for p.sess.State().Phase == simulation.PhaseActive {
		fmt.Fprint(p.out, "> ")
		line, ok := p.readLine()
		if !ok || strings.TrimSpace(line) == quitCommand {
			fmt.Fprintln(p.out, "Encounter abandoned.")
			return nil
		}
		if err := p.sess.Submit(ctx, line); err != nil {
			if errors.Is(err, simulation.ErrEmptyInput) {
				continue
			}
			return err
		}
		p.sess.Wait()
		p.printNew()
	}

	st := p.sess.State()
	fmt.Fprintf(p.out, "\nEncounter %s.\n\n", strings.ToUpper(string(st.Status)))
	rec, _, ok := p.sess.Report()
	if !ok {
		return errors.New("report was not compiled")
	}
	if err := renderMarkdown(p.out, report.Markdown(rec, nil), p.opts.raw); err != nil {
		return err
	}
	if !p.opts.skipSurvey {
		return p.survey(ctx)
	}
	return nil
}

// printNew prints guest turns added since the last call. Student turns were
// just typed and are not echoed.
func (p *player) printNew() {
	st := p.sess.State()
	for _, t := range st.Turns[p.shown:] {
		if t.IsGuest() {
			printTurn(p.out, t)
		}
	}
	if len(st.Turns) > p.shown {
		fmt.Fprintln(p.out, angerLine(st.AngerLevel))
	}
	p.shown = len(st.Turns)
}

func (p *player) survey(ctx context.Context) error {
	fmt.Fprintln(p.out, titleStyle.Render("Self-Reflection Survey"))
	fmt.Fprintln(p.out, "Rate each statement from 1 (strongly disagree) to 5 (strongly agree).")

	var rec domain.SurveyRecord
	for i, q := range domain.SurveyQuestions {
		for {
			fmt.Fprintf(p.out, "%d. %s\n[1-5]: ", i+1, q.Text)
			line, ok := p.readLine()
			if !ok {
				fmt.Fprintln(p.out, "Survey skipped.")
				return nil
			}
			if n, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && n >= 1 && n <= 5 {
				rec.Ratings[i] = n
				break
			}
		}
	}
	for strings.TrimSpace(rec.Reflection) == "" {
		fmt.Fprintf(p.out, "%s\n> ", domain.ReflectionPrompt)
		line, ok := p.readLine()
		if !ok {
			fmt.Fprintln(p.out, "Survey skipped.")
			return nil
		}
		rec.Reflection = line
	}

	if err := p.sess.SubmitSurvey(ctx, rec); err != nil {
		return err
	}
	fmt.Fprintln(p.out, "Survey recorded. Thank you.")
	return nil
}

func (p *player) readLine() (string, bool) {
	if !p.in.Scan() {
		return "", false
	}
	return p.in.Text(), true
}
