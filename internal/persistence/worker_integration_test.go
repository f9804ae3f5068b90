package persistence_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"SynthEngine/internal/event"
	"SynthEngine/internal/persistence"
	"SynthEngine/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestAuditWorker_PersistsBatches(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	input := make(chan event.Envelope, 16)
	worker := persistence.NewAuditWorker(db, input, 4, 10*time.Millisecond, zerolog.Nop(), nil)

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	for i := int64(1); i <= 10; i++ {
		input <- event.Envelope{
			Sequence:  i,
			ID:        uuid.New(),
			Kind:      event.KindCollateralDeposited,
			Timestamp: time.Now(),
			Payload: event.CollateralDeposited{
				Account: testutil.Addr(0xa1),
				Asset:   testutil.Addr(0x01),
				Amount:  big.NewInt(int64(i)),
			},
		}
	}
	close(input)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not drain in time")
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit.events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 10 {
		t.Errorf("persisted rows: got %d, want 10", count)
	}

	writer := persistence.NewAuditWriter(db)
	latest, err := writer.LatestSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != 10 {
		t.Errorf("latest sequence: got %d, want 10", latest)
	}
}

func TestAuditWorker_DrainsBufferedRecordsAfterCancel(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(context.Background()); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	input := make(chan event.Envelope, 16)
	worker := persistence.NewAuditWorker(db, input, 4, 10*time.Millisecond, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// Cancellation with records still buffered must not strand them; the
	// worker keeps draining until the channel closes.
	for i := int64(1); i <= 5; i++ {
		input <- event.Envelope{
			Sequence:  i,
			ID:        uuid.New(),
			Kind:      event.KindDebtMinted,
			Timestamp: time.Now(),
			Payload:   event.DebtMinted{Account: testutil.Addr(0xa1), Amount: big.NewInt(int64(i))},
		}
	}
	cancel()
	close(input)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not drain after cancel")
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit.events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("persisted rows after cancel: got %d, want 5", count)
	}
}

func TestAuditWorker_ReplayedBatchIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	env := event.Envelope{
		Sequence:  1,
		ID:        uuid.New(),
		Kind:      event.KindDebtMinted,
		Timestamp: time.Now(),
		Payload:   event.DebtMinted{Account: testutil.Addr(0xa1), Amount: big.NewInt(5)},
	}
	row, err := persistence.RowFromEnvelope(env)
	if err != nil {
		t.Fatal(err)
	}

	writer := persistence.NewAuditWriter(db)
	for i := 0; i < 2; i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := writer.WriteBatch(ctx, tx, []persistence.AuditRow{row}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM audit.events WHERE sequence = 1`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("duplicate sequence persisted %d times, want 1", count)
	}
}
