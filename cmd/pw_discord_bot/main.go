package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/plane-watch/pw-ingest/lib/logging"
	"github.com/plane-watch/pw-ingest/lib/setup"
	"github.com/plane-watch/pw-ingest/lib/tracker"
)

const discordTokenFlag = "discord-token"

func main() {
	app := cli.NewApp()
	app.Name = "pw_discord_bot"
	app.Usage = "Alerts Discord users when aircraft enter a saved location's radius"
	app.Version = "1.0.0"

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     discordTokenFlag,
			Usage:    "Discord bot token",
			EnvVars:  []string{"DISCORD_TOKEN"},
			Required: true,
		},
	}
	logging.IncludeVerbosityFlags(app)
	setup.IncludeSourceFlags(app)

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("pw_discord_bot: fatal error")
	}
}

func run(c *cli.Context) error {
	logging.SetLoggingLevel(c)
	logging.ConfigureForCli()

	loadLocationsList()

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
				log.Error().Err(err).Str("producer", p.String()).Msg("pw_discord_bot: producer stopped")
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

	session, err := discordgo.New("Bot " + c.String(discordTokenFlag))
	if err != nil {
		return fmt.Errorf("pw_discord_bot: creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	session.AddHandler(onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("pw_discord_bot: opening discord session: %w", err)
	}
	defer session.Close()

	bridge := newAlertBridge(session, trk)
	go bridge.run(ctx)

	log.Info().Msg("pw_discord_bot: up and running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("pw_discord_bot: shutting down")
	return nil
}

// onMessageCreate implements the small text-command surface: adding,
// removing and listing alert locations by DM.
func onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.Bot {
		return
	}
	fields := strings.Fields(m.Content)
	if len(fields) == 0 {
		return
	}

	switch strings.ToLower(fields[0]) {
	case "!addlocation":
		handleAddLocation(s, m, fields[1:])
	case "!removelocation":
		handleRemoveLocation(s, m, fields[1:])
	case "!locations":
		handleListLocations(s, m)
	}
}

func handleAddLocation(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) < 2 {
		reply(s, m, "usage: !addlocation <name> <address...>")
		return
	}
	name := args[0]
	addr := strings.Join(args[1:], " ")

	lat, lon, err := geoCodeAddress(addr)
	if err != nil {
		reply(s, m, fmt.Sprintf("could not geocode that address: %s", err))
		return
	}
	if err := addAlertLocation(m.Author.ID, m.Author.Username, name, lat, lon); err != nil {
		reply(s, m, fmt.Sprintf("could not save location: %s", err))
		return
	}
	if err := setLocationAddress(m.Author.ID, name, addr); err != nil {
		log.Error().Err(err).Msg("pw_discord_bot: failed to record address")
	}
	reply(s, m, fmt.Sprintf("saved location %q at %.5f,%.5f", name, lat, lon))
}

func handleRemoveLocation(s *discordgo.Session, m *discordgo.MessageCreate, args []string) {
	if len(args) != 1 {
		reply(s, m, "usage: !removelocation <name>")
		return
	}
	if err := removeAlertLocation(m.Author.ID, args[0]); err != nil {
		reply(s, m, fmt.Sprintf("could not remove location: %s", err))
		return
	}
	reply(s, m, fmt.Sprintf("removed location %q", args[0]))
}

func handleListLocations(s *discordgo.Session, m *discordgo.MessageCreate) {
	locs := getLocationsForUser(m.Author.ID)
	if len(locs) == 0 {
		reply(s, m, "you have no saved locations")
		return
	}
	var sb strings.Builder
	for _, loc := range locs {
		sb.WriteString(fmt.Sprintf("%s: %.5f,%.5f (%s)\n", loc.LocationName, loc.Lat, loc.Lon, loc.Address))
	}
	reply(s, m, sb.String())
}

func reply(s *discordgo.Session, m *discordgo.MessageCreate, msg string) {
	if _, err := s.ChannelMessageSend(m.ChannelID, msg); err != nil {
		log.Error().Err(err).Msg("pw_discord_bot: failed to send reply")
	}
}
