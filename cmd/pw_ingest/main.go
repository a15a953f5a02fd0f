// Command pw_ingest is the main ingest process: it runs every configured
// producer (AVR/BEAST/SBS1/rtlsdr, dialed, listened-for or replayed), feeds
// decoded frames into a tracker, and serves the live websocket API over
// HTTP. A standalone BEAST TCP listener and a NATS fan-out are optional,
// flag-gated additions over that core. When an archive DSN is configured
// the archive store is opened, but nothing is written to it.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"nhooyr.io/websocket"

	"github.com/plane-watch/pw-ingest/lib/api/live"
	"github.com/plane-watch/pw-ingest/lib/archive"
	"github.com/plane-watch/pw-ingest/lib/broker"
	"github.com/plane-watch/pw-ingest/lib/ingestcfg"
	"github.com/plane-watch/pw-ingest/lib/logging"
	"github.com/plane-watch/pw-ingest/lib/setup"
	"github.com/plane-watch/pw-ingest/lib/tracker"
	"github.com/plane-watch/pw-ingest/lib/tracker/beastsrc"
)

func main() {
	app := cli.NewApp()
	app.Name = "pw_ingest"
	app.Usage = "Decodes Mode S/ADS-B traffic and serves it live over a websocket API"
	app.Version = "1.0.0"

	app.Flags = append(app.Flags, ingestcfg.Flags()...)
	logging.IncludeVerbosityFlags(app)
	setup.IncludeSourceFlags(app)

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("pw_ingest: fatal error")
	}
}

func run(c *cli.Context) error {
	logging.SetLoggingLevel(c)
	logging.ConfigureForCli()

	cfg, err := ingestcfg.Load(c, c.String("config"))
	if err != nil {
		return err
	}

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
				log.Error().Err(err).Str("producer", p.String()).Msg("pw_ingest: producer stopped")
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

	if cfg.ListenBeast != "" {
		ln, err := net.Listen("tcp", cfg.ListenBeast)
		if err != nil {
			return fmt.Errorf("pw_ingest: beast listen %s: %w", cfg.ListenBeast, err)
		}
		bl := beastsrc.New(trk, "beastsrc")
		go func() {
			if err := bl.Serve(ctx, ln); err != nil {
				log.Error().Err(err).Msg("pw_ingest: beast listener stopped")
			}
		}()
		log.Info().Str("addr", cfg.ListenBeast).Msg("pw_ingest: beast ingest listener up")
	}

	if cfg.BrokerURL != "" {
		pub, err := broker.Connect(cfg.BrokerURL, cfg.BrokerSubject)
		if err != nil {
			log.Error().Err(err).Msg("pw_ingest: broker connect failed, continuing without it")
		} else {
			go pub.Run(ctx, trk)
			defer pub.Close()
		}
	}

	var store archive.Store
	if cfg.ArchivePostgresDSN != "" {
		store, err = archive.NewPostgresStore(cfg.ArchivePostgresDSN, log.Logger)
		if err != nil {
			log.Error().Err(err).Msg("pw_ingest: archive connect failed, continuing without it")
		} else {
			defer store.Close()
		}
	}

	liveServer := live.NewServer(trk, 256)
	httpServer := &http.Server{
		Addr:    cfg.ListenWebsocket,
		Handler: liveHandler(liveServer, ctx),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("pw_ingest: websocket server stopped")
		}
	}()
	log.Info().Str("addr", cfg.ListenWebsocket).Msg("pw_ingest: live websocket API up")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("pw_ingest: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}

func liveHandler(s *live.Server, ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("pw_ingest: websocket upgrade failed")
			return
		}
		defer conn.CloseNow()
		s.ServeHTTP(ctx, uuid.NewString(), conn)
	}
}
