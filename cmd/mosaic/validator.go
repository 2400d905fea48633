package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/libp2p/go-libp2p"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	mosaic "github.com/mosaic-network/go-mosaic"
	"github.com/mosaic-network/go-mosaic/dataset"
	"github.com/mosaic-network/go-mosaic/miners"
	"github.com/mosaic-network/go-mosaic/rounds"
	"github.com/mosaic-network/go-mosaic/scoring"
)

var validatorCmd = cli.Command{
	Name:  "validator",
	Usage: "runs a standalone mosaic validator",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Value: "/ip4/0.0.0.0/tcp/0",
			Usage: "libp2p listen multiaddr",
		},
		&cli.StringFlag{
			Name:     "registry",
			Required: true,
			Usage:    "path to the miner registry file",
		},
		&cli.StringFlag{
			Name:  "scorer",
			Value: "remote",
			Usage: "scoring backend (currently only 'remote'; local models are for embedders)",
		},
		&cli.StringFlag{
			Name:  "scorer-url",
			Usage: "base URL of the remote scoring endpoint",
		},
		&cli.StringFlag{
			Name:    "scorer-api-key",
			Usage:   "bearer token for the remote scoring endpoint",
			EnvVars: []string{"MOSAIC_SCORER_API_KEY"},
		},
		&cli.DurationFlag{
			Name:  "interval",
			Value: 60 * time.Second,
			Usage: "target interval between validation rounds",
		},
		&cli.DurationFlag{
			Name:  "call-timeout",
			Value: 30 * time.Second,
			Usage: "per-miner generation request timeout",
		},
		&cli.StringFlag{
			Name:  "datastore",
			Usage: "path to a leveldb datastore for persisting round history (memory-only if unset)",
		},
		&cli.StringFlag{
			Name:  "http",
			Value: "127.0.0.1:8081",
			Usage: "address of the observability HTTP endpoint",
		},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context

		scorer, err := buildScorer(c)
		if err != nil {
			return err
		}

		registry, err := loadRegistry(c.String("registry"))
		if err != nil {
			return xerrors.Errorf("loading registry: %w", err)
		}

		h, err := libp2p.New(libp2p.ListenAddrStrings(c.String("listen")))
		if err != nil {
			return xerrors.Errorf("creating libp2p host: %w", err)
		}
		defer func() { _ = h.Close() }()
		log.Infof("validator host %s listening on %v", h.ID(), h.Addrs())

		sampler, err := dataset.NewSampler()
		if err != nil {
			return xerrors.Errorf("creating sampler: %w", err)
		}

		opts := []mosaic.Option{mosaic.WithInterval(c.Duration("interval"))}
		if path := c.String("datastore"); path != "" {
			ds, err := leveldb.NewDatastore(path, nil)
			if err != nil {
				return xerrors.Errorf("opening datastore: %w", err)
			}
			defer func() { _ = ds.Close() }()
			history, err := rounds.NewPersistentHistory(ctx, rounds.DefaultCapacity, ds)
			if err != nil {
				return xerrors.Errorf("opening round history: %w", err)
			}
			opts = append(opts, mosaic.WithHistory(history))
		}

		client := &miners.Client{Host: h, RequestTimeout: c.Duration("call-timeout")}
		validator, err := mosaic.New(client, scorer, registry, sampler, logLedger{}, opts...)
		if err != nil {
			return xerrors.Errorf("creating validator: %w", err)
		}

		if err := validator.Start(ctx); err != nil {
			return xerrors.Errorf("starting validator: %w", err)
		}

		httpDone, err := serveObservability(ctx, c.String("http"), validator)
		if err != nil {
			return err
		}

		<-ctx.Done()
		if err := validator.Stop(context.Background()); err != nil {
			return err
		}
		<-httpDone
		return nil
	},
}

func buildScorer(c *cli.Context) (scoring.Scorer, error) {
	switch backend := c.String("scorer"); backend {
	case "remote":
		url := c.String("scorer-url")
		if url == "" {
			return nil, errors.New("--scorer-url is required with the remote scorer")
		}
		var opts []scoring.RemoteOption
		if key := c.String("scorer-api-key"); key != "" {
			opts = append(opts, scoring.WithRemoteAPIKey(key))
		}
		return scoring.NewRemote(url, opts...), nil
	case "local":
		return nil, errors.New("local scoring models must be wired by an embedding application")
	default:
		return nil, xerrors.Errorf("unknown scorer backend %q", backend)
	}
}

// logLedger stands in for the chain ledger in standalone operation: it logs
// the weight distribution instead of submitting it.
type logLedger struct{}

func (logLedger) SubmitVote(_ context.Context, uids []uint64, weightValues []float64) error {
	log.Infof("vote: uids=%v weights=%v", uids, weightValues)
	return nil
}

// serveObservability exposes the round history over HTTP for external
// observers. Serialization of round records is this surface's concern, not
// the engine's.
func serveObservability(ctx context.Context, addr string, validator *mosaic.Validator) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/history", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(validator.History()); err != nil {
			log.Debugf("failed to encode history: %v", err)
		}
	})
	mux.HandleFunc("/history/latest", func(w http.ResponseWriter, _ *http.Request) {
		latest := validator.LatestRound()
		if latest == nil {
			http.Error(w, "no rounds recorded yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(latest); err != nil {
			log.Debugf("failed to encode latest round: %v", err)
		}
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("listening on %s: %w", addr, err)
	}
	log.Infof("observability endpoint on http://%s/history", listener.Addr())

	server := &http.Server{Handler: mux}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("observability server exited: %v", err)
		}
	}()
	context.AfterFunc(ctx, func() { _ = server.Close() })
	return done, nil
}
