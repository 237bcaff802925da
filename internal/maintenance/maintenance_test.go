package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeExecutionPruner struct {
	cutoff  time.Time
	deleted int64
	err     error
	calls   int
}

func (f *fakeExecutionPruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.deleted, f.err
}

type fakeWorkerPruner struct {
	cutoff time.Time
	calls  int
}

func (f *fakeWorkerPruner) PruneStopped(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return 2, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJanitor_Run(t *testing.T) {
	executions := &fakeExecutionPruner{deleted: 5}
	workers := &fakeWorkerPruner{}

	j := New(Config{
		Executions:    executions,
		Workers:       workers,
		RetentionDays: 30,
		Logger:        testLogger(),
	})
	j.Run()

	if executions.calls != 1 || workers.calls != 1 {
		t.Fatalf("expected both pruners called once, got %d and %d", executions.calls, workers.calls)
	}

	wantExec := time.Now().AddDate(0, 0, -30)
	if diff := executions.cutoff.Sub(wantExec); diff < -time.Minute || diff > time.Minute {
		t.Errorf("execution cutoff = %v, want ~%v", executions.cutoff, wantExec)
	}
	wantWorkers := time.Now().Add(-stoppedRetention)
	if diff := workers.cutoff.Sub(wantWorkers); diff < -time.Minute || diff > time.Minute {
		t.Errorf("worker cutoff = %v, want ~%v", workers.cutoff, wantWorkers)
	}
}

func TestJanitor_Run_ExecutionErrorDoesNotBlockWorkers(t *testing.T) {
	executions := &fakeExecutionPruner{err: errors.New("db down")}
	workers := &fakeWorkerPruner{}

	j := New(Config{Executions: executions, Workers: workers, Logger: testLogger()})
	j.Run()

	if workers.calls != 1 {
		t.Error("worker pruning should run even when execution pruning fails")
	}
}

func TestJanitor_Start_InvalidSpec(t *testing.T) {
	j := New(Config{
		Executions: &fakeExecutionPruner{},
		Spec:       "not a cron",
		Logger:     testLogger(),
	})
	if err := j.Start(); err == nil {
		t.Error("expected an error for an invalid cron expression")
	}
}

func TestJanitor_Defaults(t *testing.T) {
	j := New(Config{Executions: &fakeExecutionPruner{}, Logger: testLogger()})
	if j.retentionDays != 90 {
		t.Errorf("retention = %d, want 90", j.retentionDays)
	}
	if j.spec != "0 3 * * *" {
		t.Errorf("spec = %q", j.spec)
	}
}
