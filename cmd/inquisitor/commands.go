package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"inquisitor/internal/app"
	"inquisitor/internal/config"
	"inquisitor/internal/work/builtin"
	logx "inquisitor/pkg/logx"
)

const stopTimeout = 15 * time.Second

var (
	cfgPath string
	roles   string

	configFlag = cli.StringFlag{
		Name:        "config, c",
		Usage:       "path to the JSON or YAML config file",
		Value:       "./config.json",
		Destination: &cfgPath,
	}
	runFlags = []cli.Flag{
		configFlag,
		cli.StringFlag{
			Name:        "role, r",
			Usage:       "components to run: all, or a comma list of scheduler, worker, tracker",
			Value:       "all",
			Destination: &roles,
		},
	}
)

func Execute(args []string) error {
	a := cli.App{
		Name:      "inquisitor",
		HelpName:  "inquisitor",
		Usage:     "schedules compliance collectors and auditors across AWS accounts and regions",
		Version:   version,
		UsageText: "inquisitor <command> [arguments...]",
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "run the selected roles until SIGINT or SIGTERM",
				Action: run,
				Flags:  runFlags,
			},
			{
				Name:    "check-config",
				Aliases: []string{"check"},
				Usage:   "validate the config file and exit",
				Action:  checkConfig,
				Flags:   []cli.Flag{configFlag},
			},
		},
	}
	return a.Run(args)
}

func run(_ *cli.Context) error {
	r, err := app.ParseRoles(roles)
	if err != nil {
		return err
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx := context.Background()
	a, err := app.NewApp(ctx, cfgPath, app.WithRoles(r))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case s := <-sigCh:
		reason = app.StopSIGTERM
		if s == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	return a.Stop(stopCtx, reason)
}

func checkConfig(_ *cli.Context) error {
	return validateFile(os.Stdout, cfgPath)
}

// validateFile decodes and maps path exactly as run would, without opening storage
// or channels.
func validateFile(w io.Writer, path string) error {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return err
	}
	if err := app.Validate(cfg, builtin.Factories(logx.Nop())); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: ok (%d work descriptors, storage=%s, queue=%s)\n",
		path, len(cfg.Work), orDefault(cfg.Storage.Driver, "memory"), orDefault(cfg.Queue.Driver, "memory"))
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
