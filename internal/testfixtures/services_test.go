package testfixtures

import (
	"context"
	"errors"
	"testing"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/persistence"
)

func TestServiceFactoryNewStack(t *testing.T) {
	factory := NewServiceFactory()
	stack := factory.NewStack(t, NewWorld(t))

	user, err := stack.Users.Authenticate(context.Background(), "alice", Password)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if user.ID() != stack.World.Alice.ID() {
		t.Fatalf("expected alice, got %s", user.ID())
	}

	alloc, err := stack.Allocatables.CreateAllocatable(context.Background(), application.CreateAllocatableParams{
		Principal: application.PrincipalOf(stack.World.Admin),
		Input:     application.AllocatableInput{ElementKey: "room", Values: map[string]any{"name": "Room C"}},
	})
	if err != nil {
		t.Fatalf("CreateAllocatable returned error: %v", err)
	}
	if !alloc.LastChanged().Equal(factory.Clock.Now()) {
		t.Fatalf("expected change stamp %v, got %v", factory.Clock.Now(), alloc.LastChanged())
	}

	events := stack.Events.Events()
	if len(events) != 1 || events[0].Transaction != NewUUIDGenerator(1).Next() {
		t.Fatalf("expected one event for the first transaction id, got %#v", events)
	}
	snapshot, err := stack.Repository.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LatestSnapshot returned error: %v", err)
	}
	if snapshot.RepositoryVersion != stack.Service.RepositoryVersion() {
		t.Fatalf("expected snapshot of version %d, got %d", stack.Service.RepositoryVersion(), snapshot.RepositoryVersion)
	}
}

func TestSQLiteHarnessStoresSnapshots(t *testing.T) {
	harness := NewSQLiteHarness(t)
	ctx := context.Background()

	if _, err := harness.Snapshots.LatestSnapshot(ctx); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from an empty repository, got %v", err)
	}

	world := NewWorld(t)
	snapshot, err := persistence.NewCodec(ReferenceTime().Location()).Encode(world.Cache, 1, ReferenceTime())
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if err := harness.Snapshots.SaveSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("SaveSnapshot returned error: %v", err)
	}
	loaded, err := harness.Snapshots.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot returned error: %v", err)
	}
	if len(loaded.Entities) != len(snapshot.Entities) {
		t.Fatalf("expected %d records, got %d", len(snapshot.Entities), len(loaded.Entities))
	}
}
