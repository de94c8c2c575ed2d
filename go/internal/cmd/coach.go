package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"

	"github.com/mcdev12/wissel/go/clients/matchapi"
	"github.com/mcdev12/wissel/go/internal/api"
	"github.com/mcdev12/wissel/go/internal/match/clock"
	"github.com/mcdev12/wissel/go/internal/match/engine"
	"github.com/mcdev12/wissel/go/internal/match/session"
	"github.com/mcdev12/wissel/go/internal/models"
)

var errQuit = errors.New("quit")

const coachHelp = `commands:
  start                 kick off
  pause                 pause or resume
  half                  end the current half
  next                  start the next half
  stop                  end the match
  subs | skip           accept or skip the proposed substitution
  sub <out> <in>        substitute by hand
  keeper <name>         change keeper
  goal [scorer]         home goal
  against               away goal
  undo home|away        take back a goal
  photo <url> [caption] attach a photo
  status                show the match
  quit`

func coachCommand() *cli.Command {
	return &cli.Command{
		Name:  "coach",
		Usage: "run a match from the sideline",
		Flags: []cli.Flag{
			serverFlag,
			&cli.StringFlag{Name: "code", Usage: "resume an existing match"},
			&cli.StringFlag{Name: "home", Usage: "home team name"},
			&cli.StringFlag{Name: "away", Usage: "opponent name"},
			&cli.StringSliceFlag{Name: "players", Usage: "comma separated roster"},
			&cli.StringFlag{Name: "keeper", Usage: "starting keeper"},
			&cli.IntFlag{Name: "on-field", Usage: "players on the field, keeper included"},
			&cli.IntFlag{Name: "half", Usage: "half length in minutes"},
			&cli.IntFlag{Name: "halves", Usage: "number of halves"},
			&cli.IntFlag{Name: "interval", Usage: "minutes between substitutions"},
		},
		Action: runCoach,
	}
}

func runCoach(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	out := c.App.Writer
	client := matchapi.NewClient(c.String("server"))

	matchCode := c.String("code")
	if matchCode == "" {
		resp, err := client.Create(ctx, api.CreateRequest{
			HomeTeam:       c.String("home"),
			AwayTeam:       c.String("away"),
			Players:        c.StringSlice("players"),
			Keeper:         c.String("keeper"),
			PlayersOnField: c.Int("on-field"),
			HalfDuration:   c.Int("half"),
			Halves:         c.Int("halves"),
			SubInterval:    c.Int("interval"),
		})
		if err != nil {
			return err
		}
		matchCode = resp.Code
		fmt.Fprintf(out, "created match %s, share this code with viewers\n", matchCode)
	}

	scfg := session.DefaultConfig()
	scfg.Sync.Debounce = cfg.Sync.Debounce
	scfg.Sync.Heartbeat = cfg.Sync.Heartbeat

	policy := engine.DefaultPolicy()
	policy.ProposeAtHalfStart = cfg.Match.ProposeAtHalfStart

	sess, err := session.Resume(ctx, client, matchCode, clockwork.NewRealClock(), scfg,
		session.WithObserver(printChanges(out)),
		session.WithEngineOptions(engine.WithPolicy(policy)))
	if err != nil {
		return err
	}
	return coach(ctx, sess, c.App.Reader, out)
}

// coach runs the session and feeds it console commands until quit, EOF or
// the match disappears.
func coach(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(runCtx) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-runCtx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, coachHelp)
	for {
		select {
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				cancel()
				<-errCh
				return nil
			}
			err := runCoachLine(ctx, sess, line, out)
			switch {
			case errors.Is(err, errQuit):
				cancel()
				<-errCh
				return nil
			case errors.Is(err, session.ErrMatchGone), errors.Is(err, session.ErrClosed):
				return err
			case err != nil:
				fmt.Fprintln(out, "error:", err)
			}
		}
	}
}

func runCoachLine(ctx context.Context, sess *session.Session, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d argument(s), try help", fields[0], n)
		}
		return nil
	}

	switch fields[0] {
	case "start":
		return sess.Start(ctx)
	case "pause":
		return sess.TogglePause(ctx)
	case "half":
		return sess.EndHalf(ctx)
	case "next":
		return sess.StartNextHalf(ctx)
	case "stop":
		return sess.Stop(ctx)
	case "subs":
		return sess.ExecuteSubs(ctx)
	case "skip":
		return sess.SkipSubs(ctx)
	case "sub":
		if err := need(2); err != nil {
			return err
		}
		return sess.ManualSub(ctx, args[0], args[1])
	case "keeper":
		if err := need(1); err != nil {
			return err
		}
		return sess.SwapKeeper(ctx, args[0])
	case "goal":
		scorer := ""
		if len(args) > 0 {
			scorer = args[0]
		}
		return sess.AdjustScore(ctx, engine.SideHome, 1, scorer)
	case "against":
		return sess.AdjustScore(ctx, engine.SideAway, 1, "")
	case "undo":
		if err := need(1); err != nil {
			return err
		}
		return sess.AdjustScore(ctx, engine.Side(args[0]), -1, "")
	case "photo":
		if err := need(1); err != nil {
			return err
		}
		return sess.RecordPhoto(ctx, args[0], strings.Join(args[1:], " "))
	case "status":
		snap, err := sess.Snapshot(ctx)
		if err != nil {
			return err
		}
		printStatus(out, snap)
		return nil
	case "help":
		fmt.Fprintln(out, coachHelp)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
}

// printChanges reports new events and substitution proposals as they
// happen. It runs on the session goroutine.
func printChanges(out io.Writer) session.Observer {
	var alerted bool
	return func(snap models.Snapshot, events []models.MatchEvent) {
		for _, ev := range events {
			fmt.Fprintln(out, strings.TrimPrefix(describeEvent(ev), "\n"))
		}
		if snap.SubAlert != nil && !alerted {
			fmt.Fprintf(out, "substitution due: out %v, in %v (subs / skip)\n", snap.SubAlert.Out, snap.SubAlert.In)
		}
		alerted = snap.SubAlert != nil
	}
}

func printStatus(out io.Writer, snap models.Snapshot) {
	fmt.Fprintf(out, "%s  %s %d - %d %s  half %d/%d  [%s]\n",
		snap.Code, snap.HomeTeam, snap.HomeScore, snap.AwayScore, snap.AwayTeam,
		snap.CurrentHalf, snap.TotalHalves, snap.Status)
	keeper := "-"
	if snap.KeeperAssignment != nil {
		keeper = *snap.KeeperAssignment
	}
	fmt.Fprintf(out, "keeper: %s\n", keeper)
	fmt.Fprintln(out, "field:")
	for _, p := range snap.FieldSet {
		fmt.Fprintf(out, "  %-12s %s\n", p, clock.Format(snap.PlaySeconds[p]))
	}
	fmt.Fprintln(out, "bench:")
	for _, p := range snap.BenchSet {
		fmt.Fprintf(out, "  %-12s %s\n", p, clock.Format(snap.PlaySeconds[p]))
	}
}
