// Package store 提供 engine.Store 的两个实现：
// Redis（生产，Lua 原子 CAS）与内存（测试与单机压测）。
package store

import (
	"context"
	"fmt"
	"sync"

	"live_auction/internal/engine"
)

// MemoryStore 是进程内状态存储，CAS 语义与 Redis 实现一致。
type MemoryStore struct {
	mu     sync.Mutex
	states map[uint]engine.AuctionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[uint]engine.AuctionState)}
}

func (m *MemoryStore) Read(ctx context.Context, auctionID uint) (engine.AuctionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[auctionID]
	if !ok {
		return engine.AuctionState{}, engine.ErrStateNotFound
	}
	// 返回深拷贝，读出的快照与存储内部状态互不影响。
	return state.Clone(), nil
}

func (m *MemoryStore) Commit(ctx context.Context, auctionID uint, expectedVersion uint64, next engine.AuctionState) (engine.AuctionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := uint64(0)
	if state, ok := m.states[auctionID]; ok {
		current = state.Version
	}
	if current != expectedVersion {
		return engine.AuctionState{}, fmt.Errorf("%w: expected %d, at %d",
			engine.ErrVersionConflict, expectedVersion, current)
	}

	committed := next.Clone()
	committed.Version = expectedVersion + 1
	m.states[auctionID] = committed
	return committed.Clone(), nil
}
