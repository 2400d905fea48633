package main

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/mosaic-network/go-mosaic/miners"
)

var minerCmd = cli.Command{
	Name:  "miner",
	Usage: "runs a mosaic miner backed by a remote generation endpoint",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Value: "/ip4/0.0.0.0/tcp/0",
			Usage: "libp2p listen multiaddr",
		},
		&cli.StringFlag{
			Name:     "api-url",
			Required: true,
			Usage:    "base URL of the image generation endpoint",
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "bearer token for the generation endpoint",
			EnvVars: []string{"MOSAIC_MINER_API_KEY"},
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "model name forwarded to the generation endpoint",
		},
		&cli.DurationFlag{
			Name:  "request-timeout",
			Value: 60 * time.Second,
			Usage: "per-request handling timeout, generation included",
		},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context

		h, err := libp2p.New(libp2p.ListenAddrStrings(c.String("listen")))
		if err != nil {
			return xerrors.Errorf("creating libp2p host: %w", err)
		}
		defer func() { _ = h.Close() }()
		log.Infof("miner host %s listening on %v", h.ID(), h.Addrs())

		var genOpts []miners.APIGeneratorOption
		if key := c.String("api-key"); key != "" {
			genOpts = append(genOpts, miners.WithAPIKey(key))
		}
		if model := c.String("model"); model != "" {
			genOpts = append(genOpts, miners.WithModel(model))
		}

		server := &miners.Server{
			Host:           h,
			Generator:      miners.NewAPIGenerator(c.String("api-url"), genOpts...),
			RequestTimeout: c.Duration("request-timeout"),
		}
		if err := server.Start(ctx); err != nil {
			return xerrors.Errorf("starting miner server: %w", err)
		}

		<-ctx.Done()
		return server.Stop(context.Background())
	},
}
