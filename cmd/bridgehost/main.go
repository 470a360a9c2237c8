package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/guseggert/cmdbridge/host"
	"github.com/guseggert/cmdbridge/internal/certs"
	"github.com/guseggert/cmdbridge/internal/config"
	"github.com/guseggert/cmdbridge/internal/files"
	"github.com/guseggert/cmdbridge/internal/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const workerBinary = "bridgeworker"

func main() {
	app := &cli.App{
		Name:  "bridgehost",
		Usage: "sends command lines to a bridge worker and shows what it logs back",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a TOML config file.",
				EnvVars: []string{"CMDBRIDGE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "worker",
				Usage:   "Path to the worker executable. Defaults to bridgeworker next to this binary or on $PATH.",
				EnvVars: []string{"CMDBRIDGE_WORKER"},
			},
			&cli.StringFlag{
				Name:  "connect",
				Usage: "Base URL of a worker started with --listen, instead of spawning one.",
			},
			&cli.StringFlag{
				Name:  "tls-dir",
				Usage: "Use mutual TLS with --connect, using the files written by bridgeworker gen-certs.",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "Protocol profile passed to the spawned worker. One of [structured,simple].",
			},
			&cli.StringFlag{
				Name:  "color",
				Usage: "Colorize output. One of [auto,always,never].",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. One of [debug,info,warn,error].",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to this file instead of stderr.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if c.IsSet("worker") {
		cfg.Worker.Path = c.String("worker")
	}
	if c.IsSet("connect") {
		cfg.Worker.Connect = c.String("connect")
	}
	if c.IsSet("tls-dir") {
		cfg.Worker.TLSDir = c.String("tls-dir")
	}
	if c.IsSet("profile") {
		cfg.Worker.Profile = c.String("profile")
	}
	if c.IsSet("color") {
		cfg.Host.Color = c.String("color")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
	return cfg, cfg.Validate()
}

// findWorker looks next to the host executable and its parents first, then on $PATH.
func findWorker() (string, error) {
	if exe, err := os.Executable(); err == nil {
		if p, err := files.FindUp(workerBinary, filepath.Dir(exe)); err == nil {
			return p, nil
		}
	}
	p, err := exec.LookPath(workerBinary)
	if err != nil {
		return "", fmt.Errorf("locating %s: %w", workerBinary, err)
	}
	return p, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	colorMode, err := host.ParseColorMode(cfg.Host.Color)
	if err != nil {
		return cli.Exit(err, 1)
	}
	log, err := logging.New("bridgehost", logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderer := host.NewRenderer(os.Stdout, colorMode)

	if cfg.Worker.Connect != "" {
		var tlsConfig *tls.Config
		if cfg.Worker.TLSDir != "" {
			tlsConfig, err = certs.LoadClient(cfg.Worker.TLSDir)
			if err != nil {
				return cli.Exit(err, 1)
			}
		}
		rwc, err := host.DialRemote(ctx, cfg.Worker.Connect, tlsConfig, log)
		if err != nil {
			log.Errorw("unable to attach to remote worker", "URL", cfg.Worker.Connect, "Error", err)
			return cli.Exit(err, 1)
		}
		return runController(ctx, rwc, renderer, cfg, log)
	}

	w, err := spawn(cfg, log)
	if err != nil {
		log.Errorw("unable to start worker", "Error", err)
		return cli.Exit(err, 1)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.Stop(stopCtx); err != nil {
			log.Debugw("error stopping worker", "Error", err)
		}
	}()

	controller := host.NewController(w.Stream(), renderer, host.WithLogger(log), host.WithPrompt(cfg.Host.Prompt))
	host.Monitor(controller.Conn(), w, log)
	return loop(ctx, controller)
}

func spawn(cfg config.Config, log *zap.SugaredLogger) (*host.Worker, error) {
	path := cfg.Worker.Path
	if path == "" {
		p, err := findWorker()
		if err != nil {
			return nil, err
		}
		path = p
	}
	args := append([]string{"--profile", cfg.Worker.Profile}, cfg.Worker.Args...)
	return host.StartWorker(host.WorkerRequest{Path: path, Args: args}, log)
}

func runController(ctx context.Context, rwc io.ReadWriteCloser, renderer *host.Renderer, cfg config.Config, log *zap.SugaredLogger) error {
	controller := host.NewController(rwc, renderer, host.WithLogger(log), host.WithPrompt(cfg.Host.Prompt))
	defer controller.Close()
	return loop(ctx, controller)
}

func loop(ctx context.Context, controller *host.Controller) error {
	if err := controller.RunLoop(ctx, os.Stdin); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}
