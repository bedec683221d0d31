package dice

import "testing"

func TestRollBounds(t *testing.T) {
	r := NewRoller(42)
	for i := 0; i < 200; i++ {
		roll, err := r.Roll(3, 6)
		if err != nil {
			t.Fatalf("Roll failed: %v", err)
		}
		if len(roll.Results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(roll.Results))
		}
		sum := 0
		for _, v := range roll.Results {
			if v < 1 || v > 6 {
				t.Fatalf("die value %d out of range", v)
			}
			sum += v
		}
		if sum != roll.Total {
			t.Errorf("total %d does not match sum %d", roll.Total, sum)
		}
	}
}

func TestRollDeterministic(t *testing.T) {
	a := NewRoller(7)
	b := NewRoller(7)
	for i := 0; i < 50; i++ {
		ra, _ := a.Roll(2, 20)
		rb, _ := b.Roll(2, 20)
		if ra.Total != rb.Total {
			t.Fatalf("roll %d diverged: %d vs %d", i, ra.Total, rb.Total)
		}
	}
}

func TestRollInvalidSpec(t *testing.T) {
	r := NewRoller(1)
	if _, err := r.Roll(0, 6); err != ErrInvalidSpec {
		t.Errorf("expected ErrInvalidSpec for zero count, got %v", err)
	}
	if _, err := r.Roll(1, 0); err != ErrInvalidSpec {
		t.Errorf("expected ErrInvalidSpec for zero sides, got %v", err)
	}
	if _, err := r.Roll(-2, -4); err != ErrInvalidSpec {
		t.Errorf("expected ErrInvalidSpec for negatives, got %v", err)
	}
}

func TestD20Range(t *testing.T) {
	r := NewRoller(99)
	for i := 0; i < 500; i++ {
		v := r.D20()
		if v < 1 || v > 20 {
			t.Fatalf("d20 rolled %d", v)
		}
	}
}

func TestInitiativeAppliesModifier(t *testing.T) {
	base := NewRoller(13)
	mod := NewRoller(13)
	for i := 0; i < 50; i++ {
		want := base.D20() + 3
		got := mod.Initiative(3)
		if got != want {
			t.Fatalf("initiative %d, want %d", got, want)
		}
	}
}
