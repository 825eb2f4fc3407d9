package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/AlexTLDR/irl/internal/config"
	"github.com/AlexTLDR/irl/internal/database"
	"github.com/AlexTLDR/irl/internal/irl"
)

// seedFile is the YAML layout of a directory seed, see directory.example.yaml
type seedFile struct {
	Teams     []database.Team   `yaml:"teams"`
	Members   []database.Member `yaml:"members"`
	Locations []struct {
		UID        string `yaml:"uid"`
		Name       string `yaml:"name"`
		Slug       string `yaml:"slug"`
		Gatherings []struct {
			UID        string    `yaml:"uid"`
			Name       string    `yaml:"name"`
			Slug       string    `yaml:"slug"`
			InviteOnly bool      `yaml:"invite_only"`
			LogoURL    string    `yaml:"logo_url"`
			Start      time.Time `yaml:"start"`
			End        time.Time `yaml:"end"`
		} `yaml:"gatherings"`
	} `yaml:"locations"`
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	path := "scripts/directory.example.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("Failed to read seed file")
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("Failed to parse seed file")
	}

	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	ctx := context.Background()
	failed := 0

	for _, t := range seed.Teams {
		if err := db.UpsertTeam(ctx, t); err != nil {
			logger.Error().Err(err).Str("team", t.UID).Msg("Skipping team")
			failed++
		}
	}
	for _, m := range seed.Members {
		if err := db.UpsertMember(ctx, m); err != nil {
			logger.Error().Err(err).Str("member", m.UID).Msg("Skipping member")
			failed++
		}
	}

	gatherings := 0
	for _, l := range seed.Locations {
		if err := db.UpsertLocation(ctx, irl.Location{UID: l.UID, Name: l.Name, Slug: l.Slug}); err != nil {
			logger.Error().Err(err).Str("location", l.UID).Msg("Skipping location")
			failed++
			continue
		}
		for _, g := range l.Gatherings {
			kind := irl.GatheringOpen
			if g.InviteOnly {
				kind = irl.GatheringInviteOnly
			}
			err := db.UpsertGathering(ctx, l.UID, irl.Gathering{
				UID:       g.UID,
				Name:      g.Name,
				Slug:      g.Slug,
				Type:      kind,
				LogoURL:   g.LogoURL,
				StartDate: g.Start,
				EndDate:   g.End,
			})
			if err != nil {
				logger.Error().Err(err).Str("gathering", g.UID).Msg("Skipping gathering")
				failed++
				continue
			}
			gatherings++
		}
	}

	logger.Info().
		Int("teams", len(seed.Teams)).
		Int("members", len(seed.Members)).
		Int("locations", len(seed.Locations)).
		Int("gatherings", gatherings).
		Int("failed", failed).
		Msg("Directory seeded")
	if failed > 0 {
		os.Exit(1)
	}
}
