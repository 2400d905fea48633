package main

import (
	"context"
	"encoding/json"
	"os"

	"golang.org/x/xerrors"

	"github.com/mosaic-network/go-mosaic/miners"
)

// staticRegistry serves a fixed miner set loaded from a JSON file, standing
// in for the chain module registry when running standalone. The file holds an
// array of {"uid": N, "addr": {"ID": "...", "Addrs": [...]}} objects.
type staticRegistry struct {
	infos []miners.Info
}

func loadRegistry(path string) (*staticRegistry, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("reading registry file: %w", err)
	}
	var infos []miners.Info
	if err := json.Unmarshal(buf, &infos); err != nil {
		return nil, xerrors.Errorf("parsing registry file: %w", err)
	}
	seen := make(map[uint64]struct{}, len(infos))
	for _, info := range infos {
		if _, ok := seen[info.UID]; ok {
			return nil, xerrors.Errorf("duplicate miner uid %d in registry", info.UID)
		}
		seen[info.UID] = struct{}{}
	}
	log.Infof("loaded %d miners from %s", len(infos), path)
	return &staticRegistry{infos: infos}, nil
}

func (r *staticRegistry) QueryableMiners(context.Context) ([]miners.Info, error) {
	return r.infos, nil
}
