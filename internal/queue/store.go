package queue

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"
)

// numShards is the number of lock shards. Devices hash onto shards so that
// one device's queue churn never contends with unrelated devices.
const numShards = 16

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Command is one queued command awaiting delivery to a device.
type Command struct {
	// Payload is the opaque command frame exactly as it will be written to
	// the device transport. The relay never inspects it.
	Payload json.RawMessage `json:"payload"`

	// EnqueuedAt records when the command was accepted.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Repository defines the persistence interface for queue state.
// This abstraction allows different implementations (SQLite, mock, none).
type Repository interface {
	// Save rewrites the full queue for one device.
	Save(ctx context.Context, deviceID string, cmds []Command) error

	// Delete removes the persisted queue for one device.
	Delete(ctx context.Context, deviceID string) error

	// LoadAll returns the persisted queues for every device.
	// Corrupt per-device records are skipped, not returned as errors.
	LoadAll(ctx context.Context) (map[string][]Command, error)
}

// shard holds the queues for a subset of devices under one lock.
type shard struct {
	mu     sync.Mutex
	queues map[string][]Command
}

// Store is the durable, per-device bounded FIFO for offline commands.
//
// All public methods are safe for concurrent use. Enqueue and Drain for the
// same device are serialised by the device's shard lock; there is no global
// cross-device lock.
type Store struct {
	cap    int
	shards [numShards]shard
	repo   Repository // nil means ephemeral (in-memory only)
	logger Logger
}

// NewStore creates a command queue store with the given per-device cap.
// A nil repository yields an ephemeral store that loses state on restart.
func NewStore(cap int, repo Repository) *Store {
	s := &Store{
		cap:    cap,
		repo:   repo,
		logger: noopLogger{},
	}
	for i := range s.shards {
		s.shards[i].queues = make(map[string][]Command)
	}
	return s
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Load restores persisted queue state into memory.
// This should be called once on startup, before the relay accepts traffic.
// Unreadable state degrades to an empty store; Load never fails.
func (s *Store) Load(ctx context.Context) {
	if s.repo == nil {
		return
	}

	queues, err := s.repo.LoadAll(ctx)
	if err != nil {
		s.logger.Warn("command queue state unreadable, starting empty", "error", err)
		return
	}

	total := 0
	for deviceID, cmds := range queues {
		if len(cmds) == 0 {
			continue
		}
		// Re-apply the cap in case it was lowered between restarts.
		if len(cmds) > s.cap {
			cmds = cmds[len(cmds)-s.cap:]
		}
		sh := s.shardFor(deviceID)
		sh.mu.Lock()
		sh.queues[deviceID] = cmds
		sh.mu.Unlock()
		total += len(cmds)
	}

	if total > 0 {
		s.logger.Info("command queue state restored", "devices", len(queues), "commands", total)
	}
}

// Enqueue appends a command to the device's queue.
//
// It always succeeds: the queue is bounded (oldest entry evicted past the
// cap) and persistence failures are logged, never surfaced. The caller is
// not told about eviction.
func (s *Store) Enqueue(ctx context.Context, deviceID string, payload []byte) {
	cmd := Command{
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: time.Now().UTC(),
	}

	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	q := append(sh.queues[deviceID], cmd)
	if len(q) > s.cap {
		q = q[len(q)-s.cap:]
	}
	sh.queues[deviceID] = q

	if s.repo != nil {
		if err := s.repo.Save(ctx, deviceID, q); err != nil {
			s.logger.Warn("persisting command queue failed, continuing in memory",
				"device_id", deviceID, "error", err)
		}
	}

	s.logger.Debug("command queued", "device_id", deviceID, "depth", len(q))
}

// Drain atomically removes and returns the device's full queue in FIFO order.
// Called once per device reconnect, before normal routing resumes. A send
// failure after Drain is not re-queued.
func (s *Store) Drain(ctx context.Context, deviceID string) []Command {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	q, ok := sh.queues[deviceID]
	if !ok {
		return nil
	}
	delete(sh.queues, deviceID)

	if s.repo != nil {
		if err := s.repo.Delete(ctx, deviceID); err != nil {
			s.logger.Warn("clearing persisted command queue failed",
				"device_id", deviceID, "error", err)
		}
	}

	return q
}

// Len returns the number of commands queued for a device.
func (s *Store) Len(deviceID string) int {
	sh := s.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.queues[deviceID])
}

// shardFor maps a device identifier onto its lock shard.
func (s *Store) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(deviceID)) //nolint:errcheck // fnv hash writes never fail
	return &s.shards[h.Sum32()%numShards]
}
