// Command pw_top is a read-only terminal dashboard over a running tracker:
// it subscribes to every aircraft and renders a live, sorted table of
// current state. It carries no write path back to the tracker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/plane-watch/pw-ingest/lib/logging"
	"github.com/plane-watch/pw-ingest/lib/setup"
	"github.com/plane-watch/pw-ingest/lib/tracker"
)

func main() {
	app := cli.NewApp()
	app.Name = "pw_top"
	app.Usage = "A read-only live dashboard of tracked aircraft"
	app.Version = "1.0.0"

	logging.IncludeVerbosityFlags(app)
	setup.IncludeSourceFlags(app)

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logging.SetLoggingLevel(c)
	logging.ConfigureForCli()

	producers, err := setup.HandleSourceFlags(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trk := tracker.New(ctx)

	frames := make(chan *tracker.FrameEvent, 1024)
	for _, p := range producers {
		p := p
		go func() {
			if err := p.Start(ctx, frames); err != nil {
				log.Error().Err(err).Str("producer", p.String()).Msg("pw_top: producer stopped")
			}
		}()
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case fe := <-frames:
				trk.Push(fe)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	program := tea.NewProgram(newModel(ctx, trk))
	_, err = program.Run()
	return err
}
