package main

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"relaybot/internal/app"
	"relaybot/internal/config"
	"relaybot/internal/secret"
	"relaybot/internal/subscriber"
	logx "relaybot/pkg/logx"
)

func run(ctx context.Context, args []string) error {
	var cfgPath string

	cmd := &cli.Command{
		Name:    "relaybot",
		Usage:   "group messaging bot with per-recipient translation",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config (json or yaml)",
				Value:       "./config.yaml",
				Sources:     cli.EnvVars("RELAYBOT_CONFIG"),
				Destination: &cfgPath,
			},
		},
		Commands: []*cli.Command{
			cmdServe(&cfgPath),
			cmdCheck(&cfgPath),
			cmdSeed(&cfgPath),
			cmdKeygen(),
		},
	}
	return cmd.Run(ctx, args)
}

func cmdServe(cfgPath *string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "read envelopes as JSON lines on stdin and write replies and deliveries to stdout",
		Action: func(ctx context.Context, _ *cli.Command) error {
			a, err := app.New(ctx, *cfgPath, logx.Stdin(), logx.Stdout())
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopInputEnded
			select {
			case <-ctx.Done():
				reason = app.StopSignal
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			return a.Err()
		},
	}
}

func cmdCheck(cfgPath *string) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "validate the config, resolve keys and load the subscriber list",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			log := logx.NewConsole(cfg.Logging.Level)
			core, err := app.OpenCore(ctx, cfg, log)
			if err != nil {
				return err
			}
			if core.Subscribers.Degraded() {
				return goerr.New("subscriber list could not be loaded", goerr.V("path", cfg.Subscribers.Path))
			}
			fmt.Printf("config ok: %d subscribers, %d languages\n", core.Subscribers.Len(), len(core.Lang.Codes()))
			return nil
		},
	}
}

func cmdSeed(cfgPath *string) *cli.Command {
	var sub subscriber.Subscriber
	var role string
	return &cli.Command{
		Name:  "seed",
		Usage: "insert or replace a subscriber without authorization checks (first admin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "contact", Required: true, Destination: &sub.Contact},
			&cli.StringFlag{Name: "name", Required: true, Destination: &sub.Name},
			&cli.StringFlag{Name: "lang", Value: "en", Destination: &sub.Lang},
			&cli.StringFlag{Name: "role", Value: string(subscriber.RoleSuper), Destination: &role},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			log := logx.NewConsole(cfg.Logging.Level)
			core, err := app.OpenCore(ctx, cfg, log)
			if err != nil {
				return err
			}
			sub.Role = subscriber.Role(role)
			if err := core.Subscribers.Seed(ctx, sub); err != nil {
				return err
			}
			log.Info("subscriber seeded", logx.String("name", sub.Name), logx.String("role", role))
			return nil
		},
	}
}

func cmdKeygen() *cli.Command {
	var name string
	return &cli.Command{
		Name:  "keygen",
		Usage: "print a fresh encryption key as an environment assignment",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Value: config.DefaultKeyName, Destination: &name},
		},
		Action: func(_ context.Context, _ *cli.Command) error {
			key, err := secret.Generate()
			if err != nil {
				return err
			}
			fmt.Printf("%s=%s\n", secret.EnvName(name), key)
			return nil
		},
	}
}
