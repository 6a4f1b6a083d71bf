package benchmark

import (
	"context"

	"github.com/jakewins/neo4j-sub001/configs"
	"github.com/jakewins/neo4j-sub001/locking"
	"github.com/jakewins/neo4j-sub001/resource"
	"github.com/jakewins/neo4j-sub001/utils"
)

// TestYCSB runs wl against a fresh lock manager built from cfg.
func TestYCSB(ctx context.Context, cfg *configs.Config, wl *Workload) (utils.Summary, error) {
	if err := wl.Validate(); err != nil {
		return utils.Summary{}, err
	}
	registry, err := resource.NewRegistry(wl.Types...)
	if err != nil {
		return utils.Summary{}, err
	}
	manager, err := locking.NewManager(cfg, registry)
	if err != nil {
		return utils.Summary{}, err
	}
	defer manager.Close()
	return NewYCSBStmt(manager, wl).Run(ctx)
}
