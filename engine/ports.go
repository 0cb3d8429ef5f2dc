package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ValueTransfer moves assets in and out of the engine's custody. Each call
// either fully succeeds or fails without effect.
type ValueTransfer interface {
	TransferIn(asset, from common.Address, amount *uint256.Int) error
	TransferOut(asset, to common.Address, amount *uint256.Int) error
	BalanceOf(asset common.Address) *uint256.Int
}

// Snapshotter is implemented by a ValueTransfer that can roll custody back.
// When present the engine reverts custody itself if a call aborts; otherwise
// the host's transaction boundary is expected to do it.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// VenueCaller invokes a trading venue with opaque call data and returns the
// amount the venue reports as its output.
type VenueCaller interface {
	Invoke(venue common.Address, payload []byte) (*uint256.Int, error)
}

// CallbackCaller runs a flash-loan borrower's callback. The borrower is
// expected to return amount+fee to custody before it returns.
type CallbackCaller interface {
	InvokeCallback(borrower, asset common.Address, amount, fee *uint256.Int, data []byte) error
}

// ExternalCaller is the full outbound call surface of the engine.
type ExternalCaller interface {
	VenueCaller
	CallbackCaller
}

// Calls joins independent venue and callback implementations into one
// ExternalCaller.
type Calls struct {
	VenueCaller
	CallbackCaller
}
