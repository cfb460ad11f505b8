package history

import (
	"sync"
	"testing"
)

func TestRing_AppendAndRecent(t *testing.T) {
	r := NewRing[int](5)
	for i := 1; i <= 3; i++ {
		r.Append(i)
	}

	got := r.Recent(10)
	want := []int{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("Recent returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Recent[%d] = %d, want %d (newest first)", i, got[i], want[i])
		}
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Append(i)
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	got := r.Recent(3)
	want := []int{5, 4, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Recent[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRing_RecentLimits(t *testing.T) {
	r := NewRing[int](2000)
	for i := 0; i < 1500; i++ {
		r.Append(i)
	}

	if got := len(r.Recent(0)); got != DefaultRecentLimit {
		t.Errorf("zero limit returned %d entries, want default %d", got, DefaultRecentLimit)
	}
	if got := len(r.Recent(-5)); got != DefaultRecentLimit {
		t.Errorf("negative limit returned %d entries, want default %d", got, DefaultRecentLimit)
	}
	if got := len(r.Recent(5000)); got != MaxRecentLimit {
		t.Errorf("oversized limit returned %d entries, want cap %d", got, MaxRecentLimit)
	}
	if got := len(r.Recent(7)); got != 7 {
		t.Errorf("limit 7 returned %d entries", got)
	}
}

func TestRing_Clear(t *testing.T) {
	r := NewRing[string](4)
	r.Append("a")
	r.Append("b")
	r.Clear()
	if r.Len() != 0 || len(r.Recent(10)) != 0 {
		t.Error("Clear left entries behind")
	}
	r.Append("c")
	if got := r.Recent(1); len(got) != 1 || got[0] != "c" {
		t.Errorf("ring unusable after Clear: %v", got)
	}
}

func TestRing_ConcurrentAppend(t *testing.T) {
	r := NewRing[int](100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Append(g*100 + i)
				r.Recent(10)
			}
		}(g)
	}
	wg.Wait()
	if r.Len() != 100 {
		t.Errorf("Len = %d after 400 concurrent appends into cap 100", r.Len())
	}
}
