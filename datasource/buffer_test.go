package datasource

import "testing"

func TestRingBuffer_EvictsOldestPastCapacity(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Push(Item{ID: string(rune('a' + i))})
	}
	if rb.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", rb.Len())
	}

	items := rb.Items()
	want := []string{"c", "d", "e"}
	for i, item := range items {
		if item.ID != want[i] {
			t.Errorf("Items()[%d] = %q, want %q", i, item.ID, want[i])
		}
	}
}

func TestRingBuffer_UnderCapacityPreservesOrder(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Push(Item{ID: "x"})
	rb.Push(Item{ID: "y"})

	items := rb.Items()
	if len(items) != 2 || items[0].ID != "x" || items[1].ID != "y" {
		t.Errorf("Items() = %+v", items)
	}
}

func TestNewRingBuffer_NonPositiveCapacityDefaultsToOne(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Push(Item{ID: "a"})
	rb.Push(Item{ID: "b"})
	if rb.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", rb.Len())
	}
	if rb.Items()[0].ID != "b" {
		t.Errorf("expected latest item to survive, got %q", rb.Items()[0].ID)
	}
}
