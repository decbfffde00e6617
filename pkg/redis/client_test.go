package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestSetNXOnlyFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	ok, err := client.SetNX(ctx, client.LockKey("pull-rankings"), "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, client.LockKey("pull-rankings"), "owner-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second setnx to fail, ok=%v err=%v", ok, err)
	}
	owner, err := client.Get(ctx, client.LockKey("pull-rankings"))
	if err != nil || owner != "owner-a" {
		t.Fatalf("expected owner-a, got %q err=%v", owner, err)
	}
	if err := client.Del(ctx, client.LockKey("pull-rankings")); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := client.Get(ctx, client.LockKey("pull-rankings")); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestDelIfValueOnlyDeletesMatchingOwner(t *testing.T) {
	ctx := context.Background()
	store := newMockCmdable()
	client := &Client{store: store}
	key := client.LockKey("pull-rankings")

	if _, err := client.SetNX(ctx, key, "owner-b", time.Minute); err != nil {
		t.Fatalf("setnx: %v", err)
	}
	deleted, err := client.DelIfValue(ctx, key, "owner-a")
	if err != nil || deleted {
		t.Fatalf("expected foreign owner to survive, deleted=%v err=%v", deleted, err)
	}
	if owner, _ := client.Get(ctx, key); owner != "owner-b" {
		t.Fatalf("expected owner-b to keep the lock, got %q", owner)
	}

	deleted, err = client.DelIfValue(ctx, key, "owner-b")
	if err != nil || !deleted {
		t.Fatalf("expected owner delete, deleted=%v err=%v", deleted, err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
	if store.evalShaCalls != 2 {
		t.Fatalf("expected the script to run via EVALSHA, got %d calls", store.evalShaCalls)
	}
	if _, err := (*Client)(nil).DelIfValue(ctx, key, "owner-b"); err == nil {
		t.Fatal("expected error from nil client")
	}
}

func TestLastRunMarker(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	at, err := client.LastRun(ctx, "pull-rankings")
	if err != nil || !at.IsZero() {
		t.Fatalf("expected zero time before first mark, got %v err=%v", at, err)
	}

	finished := time.Date(2026, 3, 2, 6, 30, 0, 0, time.FixedZone("EST", -5*3600))
	if err := client.MarkLastRun(ctx, "pull-rankings", finished); err != nil {
		t.Fatalf("mark: %v", err)
	}
	at, err = client.LastRun(ctx, "pull-rankings")
	if err != nil {
		t.Fatalf("last run: %v", err)
	}
	if !at.Equal(finished) {
		t.Fatalf("expected %v got %v", finished, at)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.LockKey("pull-rankings"); got != "rankpull:lock:pull-rankings" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.LastRunKey(" job "); got != "rankpull:last_run:job" {
		t.Fatalf("unexpected last run key %s", got)
	}
	if got := client.LockKey(""); got != "rankpull:lock" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestUninitializedClient(t *testing.T) {
	var client *Client
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from nil client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op: %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@cache:6380/2", PoolSize: 4, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Fatalf("unexpected parsed options %+v", opts)
	}
	if opts.PoolSize != 4 || opts.DialTimeout != time.Second {
		t.Fatalf("expected config fallbacks to apply, got pool=%d dial=%v", opts.PoolSize, opts.DialTimeout)
	}
	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 3})
	if err != nil || opts.Addr != "localhost:6379" || opts.DB != 3 {
		t.Fatalf("unexpected address options %+v err=%v", opts, err)
	}
}

type mockCmdable struct {
	data         map[string]string
	evalShaCalls int
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) delIfValue(keys []string, args []any) *redis.Cmd {
	if len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script call"))
	}
	if v, ok := m.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return m.delIfValue(keys, args)
}

func (m *mockCmdable) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	m.evalShaCalls++
	return m.delIfValue(keys, args)
}

func (m *mockCmdable) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return m.delIfValue(keys, args)
}

func (m *mockCmdable) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return m.delIfValue(keys, args)
}

func (m *mockCmdable) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (m *mockCmdable) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}
