// Package txbuilder builds the fixed-shape value transfers submitted by workers.
package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/gateway-fm/workload/internal/rpc"
)

// DefaultRecipient is a prefunded dev account that receives every transfer.
var DefaultRecipient = common.HexToAddress("0x62358b29b9e3e70ff51D88766e41a339D3e8FFff")

// TransferGasLimit is the intrinsic gas of a plain value transfer.
const TransferGasLimit uint64 = 21000

// DefaultTransferValue returns 0.01 ether in wei.
func DefaultTransferValue() *big.Int {
	return big.NewInt(params.Ether / 100)
}

// TransferBuilder produces eth_sendTransaction arguments for a value transfer
// from a node-managed sender to a fixed recipient.
type TransferBuilder struct {
	from      common.Address
	recipient common.Address
	value     *big.Int
	gasLimit  uint64
}

// NewTransferBuilder creates a builder with the default recipient, value and gas limit.
func NewTransferBuilder(from common.Address) *TransferBuilder {
	return &TransferBuilder{
		from:      from,
		recipient: DefaultRecipient,
		value:     DefaultTransferValue(),
		gasLimit:  TransferGasLimit,
	}
}

// WithRecipient overrides the recipient.
func (b *TransferBuilder) WithRecipient(to common.Address) *TransferBuilder {
	b.recipient = to
	return b
}

// From returns the sender address.
func (b *TransferBuilder) From() common.Address {
	return b.from
}

// Recipient returns the recipient address.
func (b *TransferBuilder) Recipient() common.Address {
	return b.recipient
}

// GasLimit returns the gas limit attached to every transfer.
func (b *TransferBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// Build returns the arguments for one transfer priced at gasPrice.
// The value is copied so callers can't mutate the builder's template.
func (b *TransferBuilder) Build(gasPrice *big.Int) (rpc.TransactionArgs, error) {
	if gasPrice == nil || gasPrice.Sign() < 0 {
		return rpc.TransactionArgs{}, fmt.Errorf("invalid gas price %v", gasPrice)
	}
	return rpc.TransactionArgs{
		From:     b.from,
		To:       b.recipient,
		Value:    new(big.Int).Set(b.value),
		Gas:      b.gasLimit,
		GasPrice: new(big.Int).Set(gasPrice),
	}, nil
}
