package rpc

import (
	"context"
	"fmt"

	"github.com/gather-network/gatherx/pkg/data"
	"github.com/gather-network/gatherx/pkg/protocol"
)

// GetMinerIndex fetches a miner's advertised inventory, in whichever form
// the miner chose to send it.
func (c *HTTPClient) GetMinerIndex(ctx context.Context, endpoint string) (*protocol.GetMinerIndexResponse, error) {
	req := protocol.GetMinerIndexRequest{Version: protocol.Version}
	resp := new(protocol.GetMinerIndexResponse)
	if err := c.doJSON(ctx, endpoint, protocol.MinerIndexPath, req, resp); err != nil {
		return nil, fmt.Errorf("get miner index from %s: %w", endpoint, err)
	}
	return resp, nil
}

// GetDataEntityBucket fetches every entity a miner holds for one bucket id.
func (c *HTTPClient) GetDataEntityBucket(ctx context.Context, endpoint string, id data.DataEntityBucketID) (*protocol.GetDataEntityBucketResponse, error) {
	req := protocol.GetDataEntityBucketRequest{Version: protocol.Version, DataEntityBucketID: id}
	resp := new(protocol.GetDataEntityBucketResponse)
	if err := c.doJSON(ctx, endpoint, protocol.MinerBucketPath, req, resp); err != nil {
		return nil, fmt.Errorf("get bucket %s from %s: %w", id, endpoint, err)
	}
	return resp, nil
}
