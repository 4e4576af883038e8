package service

import (
	"context"
	"fmt"
	"net"
	"time"
)

// AddressBlocker — ручное управление блок-листом (реализует blocklist.Manager)
type AddressBlocker interface {
	Block(ctx context.Context, addr, reason string, duration time.Duration) error
	Unblock(ctx context.Context, addr string) error
}

// AccountAdmin — снятие lockout с учетной записи
type AccountAdmin interface {
	UnlockActor(ctx context.Context, actorID string) error
}

type BlockService struct {
	blocker AddressBlocker
	users   AccountAdmin
}

func NewBlockService(blocker AddressBlocker, users AccountAdmin) *BlockService {
	return &BlockService{blocker: blocker, users: users}
}

// BlockAddress — ручная блокировка оператором. Причина фиксируется
// вместе с ID оператора, чтобы в Redis был виден автор.
func (s *BlockService) BlockAddress(ctx context.Context, addr, reason, operatorID string, duration time.Duration) error {
	if net.ParseIP(addr) == nil {
		return fmt.Errorf("block_service: %q is not a valid address", addr)
	}
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return s.blocker.Block(ctx, addr, fmt.Sprintf("manual by %s: %s", operatorID, reason), duration)
}

func (s *BlockService) UnblockAddress(ctx context.Context, addr string) error {
	return s.blocker.Unblock(ctx, addr)
}

func (s *BlockService) UnlockAccount(ctx context.Context, actorID string) error {
	if actorID == "" {
		return fmt.Errorf("block_service: actor id is required")
	}
	return s.users.UnlockActor(ctx, actorID)
}
