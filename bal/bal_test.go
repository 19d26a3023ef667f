package bal

import "testing"

func TestFrameSize(t *testing.T) {
	tests := []struct {
		w, h int
		want int
	}{
		{4, 2, 32},
		{1, 1, 4},
		{0, 10, -1},
		{10, -1, -1},
	}
	for _, tt := range tests {
		if got := FrameSize(tt.w, tt.h); got != tt.want {
			t.Errorf("FrameSize(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestEventKindString(t *testing.T) {
	if EventQuit.String() != "quit" || EventKind(99).String() != "unknown" {
		t.Error("unexpected kind names")
	}
}
