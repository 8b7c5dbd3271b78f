package inoinv

import "testing"

func TestAllocateChunkAndFlags(t *testing.T) {
	inv := New()
	rec := inv.AllocateChunk(0, 128)

	inv.SetFree(rec, 0)
	inv.SetUsed(rec, 1)
	inv.SetSparse(rec, 63)

	if !inv.IsFree(rec, 0) {
		t.Errorf("expected inode 0 free")
	}
	if inv.IsFree(rec, 1) {
		t.Errorf("expected inode 1 used")
	}
	if !inv.IsSparse(rec, 63) {
		t.Errorf("expected inode 63 sparse")
	}
}

func TestFindRecRange(t *testing.T) {
	inv := New()
	inv.AllocateChunk(0, 128)
	inv.AllocateChunk(0, 256)
	inv.AllocateChunk(1, 128)

	first, last, found := inv.FindRecRange(0, 100, 200)
	if !found {
		t.Fatalf("expected overlap with chunk at 128")
	}
	if first != 128 || last != 192 {
		t.Errorf("expected [128,192), got [%d,%d)", first, last)
	}

	_, _, found = inv.FindRecRange(0, 1000, 2000)
	if found {
		t.Errorf("did not expect a match far outside any chunk")
	}
}

func TestAddUncertain(t *testing.T) {
	inv := New()
	inv.AddUncertain(0, 42, true)
	inv.AddUncertain(0, 43, false)

	got := inv.Uncertain()
	if len(got) != 2 {
		t.Fatalf("expected 2 uncertain entries, got %d", len(got))
	}
	if got[0].Ino != 42 || !got[0].IsFree {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
}
