package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

// MaxDepth is the number of referrer levels that earn a share.
const MaxDepth = 2

type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*storage.User, error)
}

// Chain is the referral ancestry of Self. Missing levels are nil.
type Chain struct {
	Self   uuid.UUID
	Level1 *uuid.UUID
	Level2 *uuid.UUID
}

func (c Chain) Depth() int {
	switch {
	case c.Level2 != nil:
		return 2
	case c.Level1 != nil:
		return 1
	default:
		return 0
	}
}

type Resolver struct {
	directory Directory
}

func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve walks at most MaxDepth referrer links starting at userID. The walk
// stops at a self-referral or at any id already visited. A referrer id that
// has no directory row ends the chain at the previous level.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (Chain, error) {
	chain := Chain{Self: userID}

	self, err := r.directory.GetUser(ctx, userID)
	if err != nil {
		return Chain{}, fmt.Errorf("resolve user %s: %w", userID, err)
	}

	level1 := self.ReferrerID
	if level1 == nil || *level1 == userID {
		return chain, nil
	}
	parent, err := r.directory.GetUser(ctx, *level1)
	if errors.Is(err, storage.ErrNotFound) {
		return chain, nil
	}
	if err != nil {
		return Chain{}, fmt.Errorf("resolve referrer %s: %w", *level1, err)
	}
	chain.Level1 = &parent.ID

	level2 := parent.ReferrerID
	if level2 == nil || *level2 == userID || *level2 == parent.ID {
		return chain, nil
	}
	grand, err := r.directory.GetUser(ctx, *level2)
	if errors.Is(err, storage.ErrNotFound) {
		return chain, nil
	}
	if err != nil {
		return Chain{}, fmt.Errorf("resolve referrer %s: %w", *level2, err)
	}
	chain.Level2 = &grand.ID
	return chain, nil
}
