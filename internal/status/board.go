// Package status tracks per-agent progress snapshots over the messaging
// fabric. The board is stateless: the latest value per agent is derived at
// read time from a bounded window of recent messages.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crewmesh/internal/broker"
)

// Agent states.
const (
	StateIdle      = "idle"
	StateWorking   = "working"
	StateBlocked   = "blocked"
	StateCompleted = "completed"
)

// DefaultWindow is how many recent status messages a read considers.
const DefaultWindow = 20

// Snapshot is one agent status report.
type Snapshot struct {
	Agent       string    `json:"agent"`
	State       string    `json:"state"`
	CurrentTask string    `json:"current_task,omitempty"`
	Progress    int       `json:"progress"`
	Timestamp   time.Time `json:"timestamp"`
}

// Board publishes and reads agent status snapshots.
type Board struct {
	broker *broker.Client
	window int
	logger *zap.Logger
}

// New creates a Board. window <= 0 uses DefaultWindow; a nil logger gets
// a no-op.
func New(b *broker.Client, window int, logger *zap.Logger) *Board {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{broker: b, window: window, logger: logger}
}

// Broadcast publishes a snapshot to the agent's status subject. Progress
// is clamped to 0..100.
func (b *Board) Broadcast(ctx context.Context, agent, state, currentTask string, progress int) error {
	if agent == "" {
		return fmt.Errorf("status: broadcast: agent is required")
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	snap := Snapshot{
		Agent:       agent,
		State:       state,
		CurrentTask: currentTask,
		Progress:    progress,
		Timestamp:   time.Now().UTC(),
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("status: marshal snapshot: %w", err)
	}

	_, err = b.broker.Publish(ctx, "integration.status."+agent, broker.Envelope{
		Sender:  agent,
		Message: body,
	})
	if err != nil {
		return fmt.Errorf("status: broadcast for %s: %w", agent, err)
	}
	return nil
}

// All returns recent snapshots across every agent, oldest first, bounded
// by the board's window. The board does not deduplicate by agent; callers
// needing strict latest-per-agent semantics apply Latest to the result.
func (b *Board) All(ctx context.Context) ([]Snapshot, error) {
	msgs, err := b.broker.Fetch(ctx, broker.StreamIntegration, "integration.status.*", b.window)
	if err != nil {
		return nil, err
	}

	var snaps []Snapshot
	for _, m := range msgs {
		if m.Envelope == nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(m.Envelope.Message, &snap); err != nil {
			b.logger.Warn("skipping malformed status message",
				zap.String("subject", m.Subject),
				zap.Uint64("sequence", m.Sequence),
			)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Latest reduces a snapshot list to the most recent entry per agent,
// relying on the input being in publish order.
func Latest(snaps []Snapshot) map[string]Snapshot {
	latest := make(map[string]Snapshot, len(snaps))
	for _, s := range snaps {
		latest[s.Agent] = s
	}
	return latest
}
