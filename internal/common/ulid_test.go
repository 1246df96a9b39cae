package common

import "testing"

func TestNewULID_SortsInCreationOrder(t *testing.T) {
	prev := ""
	for i := 0; i < 200; i++ {
		id, err := NewULID()
		if err != nil {
			t.Fatalf("new ulid: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("unexpected id length %d: %q", len(id), id)
		}
		if id <= prev {
			t.Fatalf("id %q not greater than previous %q", id, prev)
		}
		prev = id
	}
}
