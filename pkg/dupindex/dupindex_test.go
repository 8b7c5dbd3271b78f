package dupindex

import "testing"

func TestSearchDupExtentDetectsOverlap(t *testing.T) {
	idx := New()
	idx.Claim(0, 100, 116)

	if !idx.SearchDupExtent(0, 110, 120) {
		t.Errorf("expected overlap to be detected")
	}
	if idx.SearchDupExtent(0, 116, 200) {
		t.Errorf("did not expect adjacent, non-overlapping range to match")
	}
	if idx.SearchDupExtent(1, 100, 116) {
		t.Errorf("claim in AG 0 must not leak into AG 1")
	}
}

func TestSearchRTDupExtent(t *testing.T) {
	idx := New()
	idx.ClaimRealtime(1000, 2000)

	if !idx.SearchRTDupExtent(1500, 1600) {
		t.Errorf("expected realtime overlap to be detected")
	}
	if idx.SearchRTDupExtent(2000, 3000) {
		t.Errorf("did not expect non-overlapping realtime range to match")
	}
}
