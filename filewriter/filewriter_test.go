package filewriter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bec-fabric/bec/alarm"
	"github.com/bec-fabric/bec/broker"
	"github.com/bec-fabric/bec/broker/memory"
	"github.com/bec-fabric/bec/devices"
	"github.com/bec-fabric/bec/filewriter"
	"github.com/bec-fabric/bec/filewriter/backend"
	"github.com/bec-fabric/bec/msg"
)

func newSink(t *testing.T, baseDir string) (*filewriter.Sink, broker.Broker, *devices.Registry) {
	t.Helper()
	b, err := memory.New(":memory:")
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()
	reg := devices.New(b)
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("reg.Start: %v", err)
	}
	t.Cleanup(func() { reg.Shutdown() })

	al := alarm.New(b)
	if err := al.Start(ctx); err != nil {
		t.Fatalf("al.Start: %v", err)
	}
	t.Cleanup(func() { al.Shutdown() })

	be := &backend.Local{BaseDir: baseDir}
	s := filewriter.New(b, reg, al, be, "scans")
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Shutdown() })
	return s, b, reg
}

func publishSegment(t *testing.T, b broker.Broker, scanID string, pointID int64) {
	t.Helper()
	env := msg.New(msg.KindScanSegment, map[string]any{
		"pointID": float64(pointID),
		"signals": map[string]any{"samx": map[string]any{"value": float64(pointID)}},
	}, map[string]any{"scanID": scanID})
	payload, err := msg.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := b.Publish(context.Background(), msg.EP.ScanSegment(), payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestEnforceSyncCommitsOnlyWhenSegmentsCompleteNumPoints(t *testing.T) {
	dir := t.TempDir()
	s, b, _ := newSink(t, dir)
	ctx := context.Background()

	s.OpenScan("scan-1", true, 2)
	publishSegment(t, b, "scan-1", 0)

	if _, found, _ := b.Get(ctx, msg.EP.PublicFile("scan-1", "master")); found {
		t.Fatal("expected no master-file announcement before all segments arrive")
	}

	publishSegment(t, b, "scan-1", 1)
	s.Finish(ctx, "scan-1", 2)

	raw, found, err := b.Get(ctx, msg.EP.PublicFile("scan-1", "master"))
	if err != nil || !found {
		t.Fatalf("expected a master-file announcement, found=%v err=%v", found, err)
	}
	env, err := msg.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if done, _ := env.Content["done"].(bool); !done {
		t.Fatal("expected done=true after commit")
	}
	if successful, _ := env.Content["successful"].(bool); !successful {
		t.Fatal("expected successful=true after a clean local write")
	}

	masterPath := filepath.Join(dir, "scans", "scan-1", "master")
	if _, err := os.Stat(masterPath); err != nil {
		t.Fatalf("expected master file on disk at %s: %v", masterPath, err)
	}
}

func TestEnforceSyncFalseCommitsOnFinishRegardlessOfSegmentCount(t *testing.T) {
	dir := t.TempDir()
	s, b, _ := newSink(t, dir)
	ctx := context.Background()

	s.OpenScan("scan-2", false, 10)
	publishSegment(t, b, "scan-2", 0) // only one of ten points ever arrives
	s.Finish(ctx, "scan-2", 0)

	_, found, err := b.Get(ctx, msg.EP.PublicFile("scan-2", "master"))
	if err != nil || !found {
		t.Fatalf("expected enforce_sync=false to commit on finish alone, found=%v err=%v", found, err)
	}
}
