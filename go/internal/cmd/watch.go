package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/mcdev12/wissel/go/clients/matchapi"
	"github.com/mcdev12/wissel/go/internal/match/clock"
	"github.com/mcdev12/wissel/go/internal/match/viewer"
	"github.com/mcdev12/wissel/go/internal/models"
)

var serverFlag = &cli.StringFlag{
	Name:    "server",
	Usage:   "base URL of the match API",
	Value:   "http://localhost:8080",
	EnvVars: []string{"WISSEL_SERVER"},
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "follow a match as a viewer",
		ArgsUsage: "<code>",
		Flags:     []cli.Flag{serverFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: wissel watch <code>", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			vcfg := viewer.DefaultConfig()
			vcfg.PollInterval = cfg.Viewer.PollInterval
			vcfg.Timeout = cfg.Viewer.Timeout

			out := c.App.Writer
			clk := clockwork.NewRealClock()
			proj := viewer.New(matchapi.NewClient(c.String("server")), c.Args().First(), clk, vcfg,
				viewer.OnNewEvents(func(events []models.MatchEvent) {
					for _, ev := range events {
						fmt.Fprintln(out, describeEvent(ev))
					}
				}),
			)
			return watch(c, proj, clk, out)
		},
	}
}

func watch(c *cli.Context, proj *viewer.Projection, clk clockwork.Clock, out io.Writer) error {
	errCh := make(chan error, 1)
	go func() { errCh <- proj.Run(c.Context) }()

	ticker := clk.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			if errors.Is(err, viewer.ErrMatchGone) {
				fmt.Fprintf(out, "match %s no longer exists\n", proj.Code())
				return nil
			}
			if c.Context.Err() != nil {
				return nil
			}
			return err
		case <-ticker.Chan():
			if line, ok := scoreLine(proj, clk.Now()); ok {
				fmt.Fprint(out, "\r"+line)
			} else if err := proj.Err(); err != nil {
				log.Debug().Err(err).Str("code", proj.Code()).Msg("waiting for first snapshot")
			}
		}
	}
}

// scoreLine renders the one-line scoreboard a viewer sees.
func scoreLine(proj *viewer.Projection, now time.Time) (string, bool) {
	snap, ok := proj.Snapshot()
	if !ok {
		return "", false
	}
	line := fmt.Sprintf("%s  %s %d - %d %s  H%d %s  [%s]",
		snap.Code, snap.HomeTeam, snap.HomeScore, snap.AwayScore, snap.AwayTeam,
		snap.CurrentHalf, clock.Format(proj.ElapsedInHalf(now)), snap.Status)
	if snap.Status == models.MatchStatusLive {
		line += "  next sub " + clock.Format(proj.NextSubIn(now))
	}
	if proj.Err() != nil {
		line += "  (offline)"
	}
	return line, true
}

func describeEvent(ev models.MatchEvent) string {
	prefix := fmt.Sprintf("\n[H%d %s] ", ev.Half, ev.Time)
	switch ev.Type {
	case models.EventTypeGoalHome:
		if ev.Scorer != "" {
			return prefix + "goal by " + ev.Scorer
		}
		return prefix + "goal"
	case models.EventTypeGoalAway:
		return prefix + "goal for the opponent"
	case models.EventTypeSubAuto, models.EventTypeSubManual:
		return prefix + fmt.Sprintf("substitution: out %v, in %v", ev.Out, ev.In)
	case models.EventTypeKeeperChange:
		return prefix + "new keeper " + ev.NewKeeper
	case models.EventTypePhoto:
		return prefix + "photo " + ev.URL
	default:
		return prefix + string(ev.Type)
	}
}
