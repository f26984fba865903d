package robotcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetwatch/store"
)

type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) ListRobots() ([]*store.Robot, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []*store.Robot{{ID: 1, Name: "r1"}, {ID: 2, Name: "r2"}}, nil
}

func quiet(string, ...any) {}

func TestWithoutRedisReadsSource(t *testing.T) {
	src := &countingSource{}
	c := New(nil, src, 0, quiet)
	misses := 0
	c.OnLookup = func(hit bool) {
		if !hit {
			misses++
		}
	}

	for i := 0; i < 2; i++ {
		robots, err := c.List(context.Background())
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(robots) != 2 {
			t.Fatalf("got %d robots", len(robots))
		}
	}
	c.Invalidate(context.Background())
	if src.calls != 2 || misses != 2 {
		t.Fatalf("source calls = %d, misses = %d", src.calls, misses)
	}
}

func TestUnreachableRedisFallsBack(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	src := &countingSource{}
	var logged int
	c := New(client, src, time.Second, func(string, ...any) { logged++ })

	robots, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(robots) != 2 || src.calls != 1 {
		t.Fatalf("robots = %d, calls = %d", len(robots), src.calls)
	}
	if logged == 0 {
		t.Fatal("redis failure not logged")
	}
}

func TestSourceErrorPropagates(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	c := New(nil, src, 0, quiet)
	if _, err := c.List(context.Background()); err == nil {
		t.Fatal("expected source error")
	}
}
