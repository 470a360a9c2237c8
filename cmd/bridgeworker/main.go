package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/cmdbridge/engine/elvish"
	"github.com/guseggert/cmdbridge/internal/certs"
	"github.com/guseggert/cmdbridge/internal/config"
	"github.com/guseggert/cmdbridge/internal/logging"
	"github.com/guseggert/cmdbridge/protocol"
	"github.com/guseggert/cmdbridge/transport"
	"github.com/guseggert/cmdbridge/worker"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "bridgeworker",
		Usage: "executes command lines sent by a bridge host over stdin/stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a TOML config file.",
				EnvVars: []string{"CMDBRIDGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "profile",
				Usage:   "Protocol profile. One of [structured,simple].",
				EnvVars: []string{"CMDBRIDGE_PROFILE"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. One of [debug,info,warn,error].",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to this file instead of stderr.",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Serve sessions over WebSocket on this address instead of stdin/stdout.",
			},
			&cli.StringFlag{
				Name:  "tls-dir",
				Usage: "Require mutual TLS in listen mode, using the files written by gen-certs in this directory.",
			},
			&cli.BoolFlag{
				Name:  "interactive",
				Usage: "Run commands typed on the terminal, without a host.",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "gen-certs",
				Usage: "write a CA and worker/host key pairs for mutual TLS",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "dir",
						Usage:    "Directory to write the PEM files to.",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "valid-for",
						Usage: "How long the certs are valid.",
						Value: "168h",
					},
				},
				Action: genCerts,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err, 1)
		}
		cfg = loaded
	}
	if c.IsSet("profile") {
		cfg.Worker.Profile = c.String("profile")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}

	profile, err := protocol.ParseProfile(cfg.Worker.Profile)
	if err != nil {
		return cli.Exit(err, 1)
	}
	log, err := logging.New("bridgeworker", logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := elvish.New()
	switch {
	case c.Bool("interactive"):
		return worker.RunConsole(ctx, eng, os.Stdin, os.Stdout)
	case c.String("listen") != "":
		l := worker.NewListener(eng, log, worker.WithProfile(profile))
		if c.IsSet("tls-dir") {
			cfg.Worker.TLSDir = c.String("tls-dir")
		}
		if cfg.Worker.TLSDir != "" {
			tlsConfig, err := certs.LoadServer(cfg.Worker.TLSDir)
			if err != nil {
				return cli.Exit(err, 1)
			}
			l.WithTLS(tlsConfig)
		}
		if err := l.ListenAndServe(ctx, c.String("listen")); err != nil {
			log.Errorw("listener failed", "Error", err)
			return cli.Exit(err, 1)
		}
		return nil
	}

	srv, err := worker.NewServer(transport.Stdio(), eng, worker.WithLogger(log), worker.WithProfile(profile))
	if err != nil {
		log.Errorw("unable to start worker", "Error", err)
		return cli.Exit(err, 1)
	}
	log.Infow("worker started", "SessionID", srv.SessionID(), "Profile", profile, "PID", os.Getpid())
	return srv.Run(ctx)
}

func genCerts(c *cli.Context) error {
	validFor, err := time.ParseDuration(c.String("valid-for"))
	if err != nil {
		return fmt.Errorf("parsing valid-for: %w", err)
	}
	generated, err := certs.Generate(validFor)
	if err != nil {
		return err
	}
	if err := generated.WriteDir(c.String("dir")); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote TLS material to %s\n", c.String("dir"))
	return nil
}
