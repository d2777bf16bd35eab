package healthsync

import "testing"

func TestRefTracker_Track(t *testing.T) {
	tr := NewRefTracker()

	if ref := tr.Track("01HXA"); ref != "C1" {
		t.Errorf("Track() = %q, want C1", ref)
	}
	if ref := tr.Track("01HXB"); ref != "C2" {
		t.Errorf("Track() = %q, want C2", ref)
	}
	if ref := tr.Track("01HXA"); ref != "C1" {
		t.Errorf("re-Track() = %q, want stable C1", ref)
	}
}

func TestRefTracker_Lookup(t *testing.T) {
	tr := NewRefTracker()
	tr.Track("01HXA")

	tests := []struct {
		ref    string
		wantID string
		wantOK bool
	}{
		{"C1", "01HXA", true},
		{"c1", "01HXA", true},
		{"01HXA", "01HXA", true},
		{"C9", "", false},
	}
	for _, tt := range tests {
		id, ok := tr.Lookup(tt.ref)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("Lookup(%q) = (%q, %v), want (%q, %v)", tt.ref, id, ok, tt.wantID, tt.wantOK)
		}
	}
}
