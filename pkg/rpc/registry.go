package rpc

import (
	"context"
	"fmt"

	"github.com/gather-network/gatherx/pkg/registry"
)

// registrySnapshotPath is served by the chain gateway, not by miners.
const registrySnapshotPath = "/v1/registry/snapshot"

// GetRegistrySnapshot fetches the current participant set from the chain
// gateway at endpoint.
func (c *HTTPClient) GetRegistrySnapshot(ctx context.Context, endpoint string) (*registry.Snapshot, error) {
	snapshot := new(registry.Snapshot)
	if err := c.doJSON(ctx, endpoint, registrySnapshotPath, nil, snapshot); err != nil {
		return nil, fmt.Errorf("get registry snapshot from %s: %w", endpoint, err)
	}
	return snapshot, nil
}
