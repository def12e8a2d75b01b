package queue_test

import (
	"testing"

	"github.com/bec-fabric/bec/queue"
)

func TestQueueUniquenessInvariant(t *testing.T) {
	q := queue.New("primary")
	q.Enqueue("q1", []*queue.RequestBlock{{RID: "r1"}})
	q.Enqueue("q2", []*queue.RequestBlock{{RID: "r2"}})

	first := q.NextToRun()
	if first == nil || first.Status != queue.Running {
		t.Fatalf("expected first item to start running, got %+v", first)
	}
	if second := q.NextToRun(); second != nil {
		t.Fatalf("expected no second RUNNING item while one is already running, got %+v", second)
	}
}

func TestPauseContinueCycle(t *testing.T) {
	q := queue.New("primary")
	q.Enqueue("q1", []*queue.RequestBlock{{RID: "r1"}})
	item := q.NextToRun()

	if !q.DeferredPause(item.QueueID) {
		t.Fatal("expected DeferredPause to succeed on a RUNNING item")
	}
	if item.Status != queue.DeferredPause {
		t.Fatalf("expected DEFERRED_PAUSE, got %s", item.Status)
	}
	if !q.ParkDeferred(item.QueueID) {
		t.Fatal("expected ParkDeferred to succeed from DEFERRED_PAUSE")
	}
	if item.Status != queue.Paused {
		t.Fatalf("expected PAUSED, got %s", item.Status)
	}
	if !q.Continue(item.QueueID) {
		t.Fatal("expected Continue to succeed from PAUSED")
	}
	if item.Status != queue.Running {
		t.Fatalf("expected RUNNING again, got %s", item.Status)
	}
}

func TestStopMovesToHistory(t *testing.T) {
	q := queue.New("primary")
	q.Enqueue("q1", []*queue.RequestBlock{{RID: "r1"}})
	item := q.NextToRun()
	q.Stop(item.QueueID)

	if q.Find(item.QueueID) == nil {
		t.Fatal("expected stopped item to still be findable via history")
	}
	if len(q.Snapshot()) != 0 {
		t.Fatal("expected pending FIFO to be empty after stop")
	}
	hist := q.History(1)
	if len(hist) != 1 || hist[0].Status != queue.Stopped {
		t.Fatalf("expected 1 STOPPED history entry, got %+v", hist)
	}
}

func TestRestartReusesRequestBlocksUnderNewQueueID(t *testing.T) {
	q := queue.New("primary")
	q.Enqueue("q1", []*queue.RequestBlock{{RID: "r1"}})
	item := q.NextToRun()
	q.Stop(item.QueueID)
	stopped := q.Find(item.QueueID)

	restarted := q.Restart("q2", stopped)
	if restarted.QueueID == stopped.QueueID {
		t.Fatal("expected restart to use a new queueID")
	}
	if len(restarted.RequestBlocks) != 1 || restarted.RequestBlocks[0].RID != "r1" {
		t.Fatalf("expected restart to reuse request blocks, got %+v", restarted.RequestBlocks)
	}
	if restarted.Status != queue.Pending {
		t.Fatalf("expected restarted item to start PENDING, got %s", restarted.Status)
	}
}

func TestClearDropsOnlyPendingItems(t *testing.T) {
	q := queue.New("primary")
	q.Enqueue("q1", []*queue.RequestBlock{{RID: "r1"}})
	running := q.NextToRun()
	q.Enqueue("q2", []*queue.RequestBlock{{RID: "r2"}})

	q.Clear()
	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].QueueID != running.QueueID {
		t.Fatalf("expected only the running item to survive Clear, got %+v", snap)
	}
}
