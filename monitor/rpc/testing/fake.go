// Package testing provides a scriptable chain backend so pipeline tests can
// control heads and blocks without a node.
package testing

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/chainsentry/evm-transfer-monitor/monitor/rpc"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

// FakeChain serves heads and blocks from memory. Missing blocks answer with
// rpc.ErrBlockNotFound like the real gateway.
type FakeChain struct {
	mu         sync.Mutex
	head       uint64
	blocks     map[uint64]*types.Block
	headErr    error
	headCalls  int
	blockCalls int
}

// NewFakeChain returns an empty chain at head 0.
func NewFakeChain() *FakeChain {
	return &FakeChain{blocks: make(map[uint64]*types.Block)}
}

// SetHead moves the chain head.
func (f *FakeChain) SetHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

// SetHeadErr makes Head fail until cleared with a nil error.
func (f *FakeChain) SetHeadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headErr = err
}

// AddBlock registers a block, advancing the head if the block is beyond it.
func (f *FakeChain) AddBlock(b *types.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[b.Number] = b
	if b.Number > f.head {
		f.head = b.Number
	}
}

// Head returns the scripted head.
func (f *FakeChain) Head(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

// Block returns a scripted block or rpc.ErrBlockNotFound.
func (f *FakeChain) Block(_ context.Context, number uint64) (*types.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockCalls++
	b, ok := f.blocks[number]
	if !ok {
		return nil, errors.Wrapf(rpc.ErrBlockNotFound, "block %d", number)
	}
	return b, nil
}

// GasPrice returns a fixed five gwei.
func (f *FakeChain) GasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(5000000000), nil
}

// TestConnection reports a healthy fake node.
func (f *FakeChain) TestConnection(ctx context.Context) (*types.Health, error) {
	head, err := f.Head(ctx)
	if err != nil {
		return nil, err
	}
	price, _ := f.GasPrice(ctx)
	return &types.Health{
		ChainID:   big.NewInt(97),
		HeadBlock: head,
		GasPrice:  price,
		Latency:   time.Millisecond,
	}, nil
}

// HeadCalls reports how many head lookups were served.
func (f *FakeChain) HeadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headCalls
}

// BlockCalls reports how many block lookups were served.
func (f *FakeChain) BlockCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockCalls
}
