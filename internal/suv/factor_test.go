package suv

import (
	"errors"
	"math"
	"testing"

	"gopkg.in/guregu/null.v3"
)

func f18Dose() Dose {
	return Dose{
		PatientWeight: null.FloatFrom(70),
		TotalDose:     null.FloatFrom(3.7e8),
		HalfLife:      null.FloatFrom(6586.2),
		Injection:     "20190531080000",
	}
}

func TestFactor_OneHourAfterInjection(t *testing.T) {
	got, err := Factor(f18Dose(), "20190531090000")
	if err != nil {
		t.Fatalf("Factor: %v", err)
	}

	bw := 1000 * 70 / 3.7e8
	decay := math.Exp(math.Ln2 / 6586.2 * 3600)
	want := bw * decay
	if math.Abs(got-want)/want > 1e-6 {
		t.Errorf("Factor() = %g, want %g", got, want)
	}
	if got < 2.7e-4 || got > 2.8e-4 {
		t.Errorf("Factor() = %g out of the expected range", got)
	}
	t.Logf("✓ factor %.4e (bw %.4e, decay %.4f)", got, bw, decay)
}

func TestFactor_AtInjectionIsBodyWeight(t *testing.T) {
	got, err := Factor(f18Dose(), "20190531080000")
	if err != nil {
		t.Fatal(err)
	}
	if want := 1000 * 70 / 3.7e8; got != want {
		t.Errorf("Factor() = %g, want %g", got, want)
	}
}

func TestFactor_Monotonic(t *testing.T) {
	prev := 0.0
	for _, ts := range []string{"20190531080000", "20190531083000", "20190531090000", "20190531120000"} {
		f, err := Factor(f18Dose(), ts)
		if err != nil {
			t.Fatal(err)
		}
		if f <= prev {
			t.Errorf("factor at %s = %g, not above %g", ts, f, prev)
		}
		// the decay fraction exp(-lambda*dt) = bw/factor shrinks with elapsed time
		prev = f
	}
}

func TestFactor_InvalidDose(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Dose)
	}{
		{"missing weight", func(d *Dose) { d.PatientWeight = null.Float{} }},
		{"zero dose", func(d *Dose) { d.TotalDose = null.FloatFrom(0) }},
		{"negative half-life", func(d *Dose) { d.HalfLife = null.FloatFrom(-1) }},
		{"NaN weight", func(d *Dose) { d.PatientWeight = null.FloatFrom(math.NaN()) }},
		{"no injection time", func(d *Dose) { d.Injection = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f18Dose()
			tt.mutate(&d)
			f, err := Factor(d, "20190531090000")
			if !errors.Is(err, ErrInvalidDose) {
				t.Errorf("Factor() = %g, %v; want ErrInvalidDose", f, err)
			}
		})
	}
	if _, err := Factor(f18Dose(), "2019"); err == nil || errors.Is(err, ErrInvalidDose) {
		t.Errorf("bad acquisition time: %v", err)
	}
}
