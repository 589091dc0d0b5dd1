package markprice

import "testing"

func TestComposeBlendsAllThreeInputs(t *testing.T) {
	t.Parallel()
	// external=100, last=102, mid=98 -> 0.7*100 + 0.2*102 + 0.1*98 = 70+20.4+9.8=100.2
	got := Compose(100_000000, 102_000000, 98_000000)
	want := int64(100_200000)
	if int64(got) != want {
		t.Fatalf("Compose = %d, want %d", got, want)
	}
}

func TestComposeFallsBackToExternalWhenLastAndMidMissing(t *testing.T) {
	t.Parallel()
	got := Compose(100_000000, 0, 0)
	if got != 100_000000 {
		t.Fatalf("Compose = %d, want 100000000 (pure external)", got)
	}
}
