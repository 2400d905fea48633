package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("mosaic/cmd")

func main() {
	app := &cli.App{
		Name:  "mosaic",
		Usage: "mosaic inference marketplace node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level for all mosaic subsystems",
			},
		},
		Before: func(c *cli.Context) error {
			return logging.SetLogLevelRegex("mosaic.*", c.String("log-level"))
		},
		Commands: []*cli.Command{
			&validatorCmd,
			&minerCmd,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %+v\n", err)
		os.Exit(1)
	}
}
