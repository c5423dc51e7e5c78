package referral

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/vivian5285/panda-quant/services/commission/internal/storage"
)

type fakeDirectory struct {
	users map[uuid.UUID]*storage.User
	err   error
	calls int
}

func (f *fakeDirectory) add(id uuid.UUID, referrer *uuid.UUID) {
	if f.users == nil {
		f.users = make(map[uuid.UUID]*storage.User)
	}
	f.users[id] = &storage.User{ID: id, ReferrerID: referrer}
}

func (f *fakeDirectory) GetUser(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u, nil
}

func ptr(id uuid.UUID) *uuid.UUID {
	return &id
}

func TestResolveFullChain(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	dir := &fakeDirectory{}
	dir.add(a, ptr(b))
	dir.add(b, ptr(c))
	dir.add(c, ptr(d))
	dir.add(d, nil)

	chain, err := NewResolver(dir).Resolve(context.Background(), a)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if chain.Self != a || chain.Level1 == nil || *chain.Level1 != b || chain.Level2 == nil || *chain.Level2 != c {
		t.Fatalf("unexpected chain: %+v", chain)
	}
	if chain.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", chain.Depth())
	}
	if dir.calls != 3 {
		t.Fatalf("expected walk to stop after two levels, calls=%d", dir.calls)
	}
}

func TestResolvePartialChains(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	dir := &fakeDirectory{}
	dir.add(a, ptr(b))
	dir.add(b, nil)

	chain, err := NewResolver(dir).Resolve(context.Background(), a)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if chain.Depth() != 1 || chain.Level2 != nil {
		t.Fatalf("expected level 1 only, got %+v", chain)
	}

	chain, err = NewResolver(dir).Resolve(context.Background(), b)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if chain.Depth() != 0 {
		t.Fatalf("expected no referrers, got %+v", chain)
	}
}

func TestResolveStopsOnCycles(t *testing.T) {
	self, other := uuid.New(), uuid.New()
	dir := &fakeDirectory{}
	dir.add(self, ptr(self))

	chain, err := NewResolver(dir).Resolve(context.Background(), self)
	if err != nil || chain.Depth() != 0 {
		t.Fatalf("expected self-referral to be ignored, got %+v %v", chain, err)
	}

	dir.add(self, ptr(other))
	dir.add(other, ptr(self))
	chain, err = NewResolver(dir).Resolve(context.Background(), self)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if chain.Depth() != 1 || *chain.Level1 != other {
		t.Fatalf("expected cycle to stop at level 1, got %+v", chain)
	}
}

func TestResolveMissingRows(t *testing.T) {
	a, ghost := uuid.New(), uuid.New()
	dir := &fakeDirectory{}
	dir.add(a, ptr(ghost))

	chain, err := NewResolver(dir).Resolve(context.Background(), a)
	if err != nil || chain.Depth() != 0 {
		t.Fatalf("expected missing referrer to end chain, got %+v %v", chain, err)
	}

	if _, err := NewResolver(dir).Resolve(context.Background(), uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	dir.err = errors.New("db down")
	if _, err := NewResolver(dir).Resolve(context.Background(), a); err == nil {
		t.Fatal("expected directory error")
	}
}
