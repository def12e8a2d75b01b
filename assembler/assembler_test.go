package assembler_test

import (
	"testing"

	"github.com/bec-fabric/bec/assembler"
	"github.com/bec-fabric/bec/msg"
)

func TestBundleArgsMultipleOfWidth(t *testing.T) {
	r := assembler.NewRegistry()
	class, ok := r.Get("line_scan")
	if !ok {
		t.Fatal("expected line_scan to be registered")
	}
	_, err := assembler.BundleArgs(class, []any{"samx", -5.0})
	if err == nil {
		t.Fatal("expected a rejection for a non-multiple-of-3 arg count")
	}
}

func TestLineScanProducesOpenCloseAndPerPointCycle(t *testing.T) {
	r := assembler.NewRegistry()
	class, _ := r.Get("line_scan")
	bundles, err := assembler.BundleArgs(class, []any{"samx", -5.0, 5.0})
	if err != nil {
		t.Fatalf("BundleArgs: %v", err)
	}
	gen, err := class.Build(&assembler.Request{
		RID: "rid-1", ScanType: "line_scan", Bundles: bundles,
		Kwargs: map[string]any{"steps": 3},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var actions []msg.Action
	for {
		instr, ok := gen.Next()
		if !ok {
			break
		}
		actions = append(actions, instr.Action)
	}
	if actions[0] != msg.ActOpenScan {
		t.Fatalf("expected first instruction to be open_scan, got %s", actions[0])
	}
	if actions[len(actions)-1] != msg.ActCloseScan {
		t.Fatalf("expected last instruction to be close_scan, got %s", actions[len(actions)-1])
	}
	var setCount int
	for _, a := range actions {
		if a == msg.ActSet {
			setCount++
		}
	}
	if setCount != 3 {
		t.Fatalf("expected 3 set instructions for steps=3, got %d", setCount)
	}
}

func TestListScanRejectsMismatchedLengths(t *testing.T) {
	r := assembler.NewRegistry()
	class, _ := r.Get("list_scan")
	gen, err := class.Build(&assembler.Request{
		Bundles: [][]any{
			{"samx", []any{0.0, 1.0, 2.0}},
			{"samy", []any{0.0, 1.0}},
		},
	})
	if err == nil || gen != nil {
		t.Fatal("expected an error for mismatched list_scan position lengths")
	}
}

func TestAvailableScansIncludesBuiltins(t *testing.T) {
	r := assembler.NewRegistry()
	scans := r.AvailableScans()
	for _, name := range []string{"line_scan", "grid_scan", "list_scan", "round_scan_fly", "device_rpc"} {
		if _, ok := scans[name]; !ok {
			t.Fatalf("expected %s to be a registered scan", name)
		}
	}
}
