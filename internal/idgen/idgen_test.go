package idgen

import "testing"

func TestNewIsMonotonicallyIncreasing(t *testing.T) {
	g := NewGenerator(nil)
	prev := g.New()
	for i := 0; i < 100; i++ {
		next := g.New()
		if next <= prev {
			t.Fatalf("expected strictly increasing ids, got %q then %q", prev, next)
		}
		prev = next
	}
}

func TestNewIsFixedLength(t *testing.T) {
	g := NewGenerator(nil)
	id := g.New()
	if len(id) != 26 {
		t.Fatalf("expected a 26-character id, got %q (%d chars)", id, len(id))
	}
}
