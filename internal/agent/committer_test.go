package agent_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/ana/internal/agent"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
)

// countingStore records Save calls and can fail them.
type countingStore struct {
	entity.Store

	mu      sync.Mutex
	saves   []string
	saveErr error
}

func (s *countingStore) Save(ctx context.Context, gameID string, e *entity.Entity) error {
	s.mu.Lock()
	s.saves = append(s.saves, e.ID)
	err := s.saveErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Save(ctx, gameID, e)
}

func newCommitMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func skippedTotal(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "ana.commit.skipped" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func approve(gs *turn.GameState, changes ...turn.EntityChange) turn.Snapshot {
	return snapshot("cmd", gs, turn.Update{Approved: changes})
}

func TestCommitter_AppliesStatusesIdempotently(t *testing.T) {
	t.Parallel()

	mem, gs := cryptState(t)
	store := &countingStore{Store: mem}
	c := agent.NewCommitter(store)
	ctx := context.Background()

	u, err := c.Run(ctx, approve(gs,
		turn.EntityChange{EntityID: "torch", AddStatuses: []turn.StatusChange{{Status: "lit"}}},
		turn.EntityChange{EntityID: "crypt-entrance", AddStatuses: []turn.StatusChange{{Status: "lit"}}, RemoveStatuses: []turn.StatusChange{{Status: "dark"}}},
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(u.Applied) != 2 || len(u.Committed) != 2 {
		t.Fatalf("applied = %+v, committed = %d", u.Applied, len(u.Committed))
	}
	torch, _ := mem.Get(ctx, "g1", "torch")
	if !torch.HasStatus("lit") {
		t.Error("torch should be lit in the store")
	}
	if snapTorch, _ := gs.Find("torch"); snapTorch.HasStatus("lit") {
		t.Error("snapshot entity must not be mutated")
	}

	// Against the reloaded state the same change is a no-op and writes nothing.
	fresh, _ := turn.LoadGameState(ctx, mem, "g1")
	store.saves = nil
	u, err = c.Run(ctx, approve(fresh,
		turn.EntityChange{EntityID: "torch", AddStatuses: []turn.StatusChange{{Status: "lit"}}, RemoveStatuses: []turn.StatusChange{{Status: "unlit"}}},
	))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(u.Applied) != 0 || len(u.Committed) != 0 || len(store.saves) != 0 {
		t.Errorf("no-op change wrote: applied=%+v saves=%v", u.Applied, store.saves)
	}
}

func TestCommitter_SkipsInconsistencies(t *testing.T) {
	t.Parallel()

	mem, gs := cryptState(t)
	store := &countingStore{Store: mem}
	metrics, reader := newCommitMetrics(t)
	c := agent.NewCommitter(store, agent.WithCommitMetrics(metrics))
	ctx := context.Background()

	u, err := c.Run(ctx, approve(gs,
		turn.EntityChange{EntityID: "dragon", AddStatuses: []turn.StatusChange{{Status: "angry"}}},
		turn.EntityChange{AddStatuses: []turn.StatusChange{{Status: "orphaned"}}},
		turn.EntityChange{EntityID: "player", SetProperties: []turn.PropertyChange{{Property: "locationId", Value: "atlantis"}}},
		turn.EntityChange{EntityID: "player", SetProperties: []turn.PropertyChange{{Property: "locationId", Value: "torch"}}},
		turn.EntityChange{EntityID: "torch", SetProperties: []turn.PropertyChange{{Property: "weight", Value: "3"}}},
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(u.Applied) != 0 || len(store.saves) != 0 {
		t.Errorf("skipped changes must not be applied: applied=%+v saves=%v", u.Applied, store.saves)
	}
	if u.Applied == nil || u.Committed == nil {
		t.Error("Applied and Committed must be written even when empty")
	}
	if got := skippedTotal(t, reader); got != 5 {
		t.Errorf("skipped = %d, want 5", got)
	}
	player, _ := mem.Get(ctx, "g1", "player")
	if player.LocationID != "crypt-entrance" {
		t.Errorf("player moved to %q", player.LocationID)
	}
}

func TestCommitter_MovesPlayer(t *testing.T) {
	t.Parallel()

	mem, gs := cryptState(t)
	u, err := agent.NewCommitter(mem).Run(context.Background(), approve(gs,
		turn.EntityChange{EntityID: "player", SetProperties: []turn.PropertyChange{{Property: "locationId", Value: "great-hall"}}},
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	player, _ := mem.Get(context.Background(), "g1", "player")
	if player.LocationID != "great-hall" {
		t.Errorf("player at %q, want great-hall", player.LocationID)
	}
	if len(u.Applied) != 1 || len(u.Applied[0].SetProperties) != 1 {
		t.Errorf("applied = %+v", u.Applied)
	}
}

func TestCommitter_MovesItemsBetweenContainers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem, _ := cryptState(t)
	_ = mem.SaveTemplate(ctx, &entity.Entity{ID: "sword", Kind: entity.KindItem, Name: "Sword", LocationID: "crypt-entrance"})
	room, _ := mem.GetTemplate(ctx, "crypt-entrance")
	room.OccupantIDs = []string{"sword"}
	_ = mem.SaveTemplate(ctx, room)
	gs, err := turn.LoadGameState(ctx, mem, "g1")
	if err != nil {
		t.Fatalf("LoadGameState: %v", err)
	}

	u, err := agent.NewCommitter(mem).Run(ctx, approve(gs,
		turn.EntityChange{EntityID: "sword", SetProperties: []turn.PropertyChange{{Property: "locationId", Value: entity.PlayerID}}},
	))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var ids []string
	for _, e := range u.Committed {
		ids = append(ids, e.ID)
	}
	slices.Sort(ids)
	if !slices.Equal(ids, []string{"crypt-entrance", "player", "sword"}) {
		t.Errorf("committed = %v", ids)
	}
	room, _ = mem.Get(ctx, "g1", "crypt-entrance")
	player, _ := mem.Get(ctx, "g1", "player")
	if slices.Contains(room.OccupantIDs, "sword") || !slices.Contains(player.OccupantIDs, "sword") {
		t.Errorf("room occupants = %v, player carries %v", room.OccupantIDs, player.OccupantIDs)
	}

	next, _ := turn.LoadGameState(ctx, mem, "g1")
	if _, ok := next.Find("sword"); !ok {
		t.Error("carried sword should stay near the player")
	}
}

func TestCommitter_StoreFailureIsTransient(t *testing.T) {
	t.Parallel()

	mem, gs := cryptState(t)
	store := &countingStore{Store: mem, saveErr: errors.New("disk full")}
	_, err := agent.NewCommitter(store).Run(context.Background(), approve(gs,
		turn.EntityChange{EntityID: "torch", AddStatuses: []turn.StatusChange{{Status: "lit"}}},
	))
	if !errors.Is(err, turn.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient", err)
	}
}
