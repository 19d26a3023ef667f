package capability

import (
	"testing"
)

func TestTable_SetGetRemove(t *testing.T) {
	table := NewTable()
	c := Capability{Handle: 2, Kind: KindDisplay, Rights: RightWrite}

	if err := table.Set(3, c); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := table.Set(3, c); err == nil {
		t.Fatal("Set on occupied slot should fail")
	}

	got, ok := table.Get(3)
	if !ok || got != c {
		t.Fatalf("Get: got %+v, %v", got, ok)
	}
	if _, ok := table.Get(0); ok {
		t.Fatal("empty slot should not resolve")
	}
	if _, ok := table.Get(Slots); ok {
		t.Fatal("out of range index should not resolve")
	}

	if _, ok := table.Remove(3); !ok {
		t.Fatal("Remove failed")
	}
	if table.Len() != 0 {
		t.Fatalf("Len: got %d, want 0", table.Len())
	}
}

func TestTable_InsertLowestFree(t *testing.T) {
	table := NewTable()
	_ = table.Set(0, Capability{Handle: 1, Kind: KindTimer, Rights: RightRead})
	_ = table.Set(2, Capability{Handle: 3, Kind: KindInput, Rights: RightRead})

	idx, err := table.Insert(Capability{Handle: 2, Kind: KindDisplay, Rights: RightRead})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if idx != 1 {
		t.Errorf("Insert index: got %d, want 1", idx)
	}
}

func TestTable_Full(t *testing.T) {
	table := NewTable()
	for i := 0; i < Slots; i++ {
		if _, err := table.Insert(Capability{Handle: 1, Kind: KindTimer, Rights: RightRead}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	if _, err := table.Insert(Capability{Handle: 1, Kind: KindTimer, Rights: RightRead}); err == nil {
		t.Fatal("Insert into full table should fail")
	}
	if err := table.Set(Slots, Capability{Handle: 1}); err == nil {
		t.Fatal("Set beyond last slot should fail")
	}
}

func TestTable_EachAndClear(t *testing.T) {
	table := NewTable()
	_ = table.Set(5, Capability{Handle: 1, Kind: KindTimer, Rights: RightRead})
	_ = table.Set(1, Capability{Handle: 3, Kind: KindInput, Rights: RightRead})

	var order []uint32
	table.Each(func(i uint32, _ Capability) bool {
		order = append(order, i)
		return true
	})
	if len(order) != 2 || order[0] != 1 || order[1] != 5 {
		t.Errorf("Each order: got %v", order)
	}

	if removed := table.Clear(); len(removed) != 2 {
		t.Errorf("Clear: got %d removed", len(removed))
	}
	if table.Len() != 0 {
		t.Error("table should be empty after Clear")
	}
}

func TestRightsParse(t *testing.T) {
	tests := []struct {
		in   string
		want Rights
		ok   bool
	}{
		{"r", RightRead, true},
		{"rw", RightRead | RightWrite, true},
		{"rwd", RightsAll, true},
		{"r-d", RightRead | RightDelegate, true},
		{"W", RightWrite, true},
		{"", 0, false},
		{"---", 0, false},
		{"rx", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseRights(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseRights(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}

	if (RightRead | RightDelegate).String() != "r-d" {
		t.Errorf("String: got %q", (RightRead | RightDelegate).String())
	}
	if !RightRead.Subset(RightRead | RightWrite) {
		t.Error("r should be a subset of rw")
	}
	if (RightRead | RightWrite).Subset(RightRead) {
		t.Error("rw should not be a subset of r")
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"timer":           KindTimer,
		"display-surface": KindDisplay,
		"input-queue":     KindInput,
		"memory-extent":   KindExtent,
		"extent":          KindExtent,
	} {
		if got, ok := ParseKind(in); !ok || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseKind("network"); ok {
		t.Error("network should not parse")
	}
}
