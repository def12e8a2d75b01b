package filewriter

import "testing"

func TestLZ4RoundTrip(t *testing.T) {
	raw := []byte(`{"samx_async": [1, 2, 3, "lz4 round trip"]}`)
	compressed, err := compressLZ4(raw)
	if err != nil {
		t.Fatalf("compressLZ4: %v", err)
	}
	got, err := decompressLZ4(compressed)
	if err != nil {
		t.Fatalf("decompressLZ4: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, raw)
	}
}
