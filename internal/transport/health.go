package transport

import (
	"context"

	"github.com/gateway-fm/workload/internal/rpc"
)

// NodeHealth checks readiness with eth_blockNumber.
type NodeHealth struct {
	Client rpc.Client
}

// CheckNode returns an error when the node does not answer.
func (h *NodeHealth) CheckNode(ctx context.Context) error {
	_, err := h.Client.GetBlockNumber(ctx)
	return err
}
