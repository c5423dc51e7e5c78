package settlement

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLockExclusive(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lock := NewRedisLock(client, "test:settle", time.Minute)
	ctx := context.Background()

	release, ok, err := lock.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first lock, got %v %v", ok, err)
	}
	if _, ok, err := lock.TryLock(ctx); err != nil || ok {
		t.Fatalf("expected second lock to be refused, got %v %v", ok, err)
	}

	release()
	if s.Exists("test:settle") {
		t.Fatal("expected release to delete the key")
	}
	release2, ok, err := lock.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("expected lock after release, got %v %v", ok, err)
	}
	defer release2()
}

func TestRedisLockReleaseKeepsForeignToken(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	lock := NewRedisLock(client, "test:settle", time.Second)
	release, ok, err := lock.TryLock(context.Background())
	if err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}

	s.FastForward(2 * time.Second)
	if err := s.Set("test:settle", "other-holder"); err != nil {
		t.Fatalf("set: %v", err)
	}
	release()

	if got, _ := s.Get("test:settle"); got != "other-holder" {
		t.Fatalf("expected foreign lease to survive, got %q", got)
	}
}

func TestLocalLock(t *testing.T) {
	lock := &LocalLock{}
	release, ok, _ := lock.TryLock(context.Background())
	if !ok {
		t.Fatal("expected lock")
	}
	if _, ok, _ := lock.TryLock(context.Background()); ok {
		t.Fatal("expected lock to be held")
	}
	release()
	if _, ok, _ := lock.TryLock(context.Background()); !ok {
		t.Fatal("expected lock after release")
	}
}

type countingGenerator struct {
	calls int
	err   error
}

func (g *countingGenerator) GenerateSettlements(context.Context) (RunResult, error) {
	g.calls++
	return RunResult{UsersProcessed: 1}, g.err
}

func TestSchedulerRunOnceSkipsWhenLocked(t *testing.T) {
	lock := &LocalLock{}
	gen := &countingGenerator{}
	sched := NewScheduler(gen, lock, time.Minute, slog.Default())

	result, ran, err := sched.RunOnce(context.Background())
	if err != nil || !ran || result.UsersProcessed != 1 {
		t.Fatalf("expected run, got %+v %v %v", result, ran, err)
	}

	release, _, _ := lock.TryLock(context.Background())
	_, ran, err = sched.RunOnce(context.Background())
	release()
	if err != nil || ran {
		t.Fatalf("expected skipped run, got %v %v", ran, err)
	}
	if gen.calls != 1 {
		t.Fatalf("expected one generator call, got %d", gen.calls)
	}

	gen.err = errors.New("boom")
	if _, ran, err := sched.RunOnce(context.Background()); !ran || err == nil {
		t.Fatalf("expected run error, got %v %v", ran, err)
	}
	if _, ok, _ := lock.TryLock(context.Background()); !ok {
		t.Fatal("expected lock released after failed run")
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	gen := &countingGenerator{}
	sched := NewScheduler(gen, nil, 5*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
