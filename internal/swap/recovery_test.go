package swap

import (
	"context"
	"testing"
	"time"
)

func TestScanOnceSkipsFreshSwaps(t *testing.T) {
	engine, _, _, dst := testEngine(t)
	ctx := context.Background()

	dst.ForceCreateError(context.DeadlineExceeded)

	rec, err := engine.Initiate(ctx, basicRequest())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	rec, _ = engine.Step(ctx, rec.ID)
	rec, _ = engine.Step(ctx, rec.ID)
	if rec.State != StateRefunding {
		t.Fatalf("state = %s, want refunding", rec.State)
	}

	driver := NewRecoveryDriver(engine)
	driver.SetStaleThreshold(time.Hour)
	driver.ScanOnce(ctx)

	after, _ := engine.GetStatus(rec.ID)
	if after.State != StateRefunding {
		t.Fatalf("state = %s, want refunding unchanged (swap is not yet stale)", after.State)
	}
}

func TestScanOnceRetriesStaleSourceLocked(t *testing.T) {
	engine, _, _, dst := testEngine(t)
	ctx := context.Background()

	dst.ForceCreateError(context.DeadlineExceeded)

	rec, err := engine.Initiate(ctx, basicRequest())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	rec, err = engine.Step(ctx, rec.ID)
	if err != nil || rec.State != StateSourceLocked {
		t.Fatalf("state=%s err=%v, want source_locked", rec.State, err)
	}

	dst.ForceCreateError(nil)

	driver := NewRecoveryDriver(engine)
	driver.SetStaleThreshold(0)
	driver.ScanOnce(ctx)

	after, err := engine.GetStatus(rec.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if after.State != StateDestinationLocked {
		t.Fatalf("state = %s, want destination_locked after recovery retries destination creation", after.State)
	}
}

func TestStartStopDriverIsClean(t *testing.T) {
	engine, _, _, _ := testEngine(t)
	driver := NewRecoveryDriver(engine)
	driver.SetTick(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	driver.Stop()
}
