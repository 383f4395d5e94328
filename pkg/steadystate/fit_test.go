package steadystate

import (
	"testing"
)

func TestFitLine(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
		want   Line
	}{
		{
			name:   "identity",
			points: []Point{{1, 1}, {2, 2}, {3, 3}, {4, 4}},
			want:   Line{Slope: 1, Intercept: 0},
		},
		{
			name:   "horizontal",
			points: []Point{{6, 50}, {7, 50}, {8, 50}},
			want:   Line{Slope: 0, Intercept: 50},
		},
		{
			name:   "noisy",
			points: []Point{{1, 2}, {2, 3}, {3, 5}, {4, 4}},
			// sxx=5, sxy=4
			want: Line{Slope: 0.8, Intercept: 1.5},
		},
		{
			name:   "single point",
			points: []Point{{9, 4}},
			want:   Line{Intercept: 4},
		},
		{
			name:   "empty",
			points: nil,
			want:   Line{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitLine(tt.points)
			if !approx(got.Slope, tt.want.Slope) || !approx(got.Intercept, tt.want.Intercept) {
				t.Errorf("FitLine() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFitLine_LargeRounds(t *testing.T) {
	// rounds far from the origin must not lose the slope
	points := []Point{
		{1_000_001, 10},
		{1_000_002, 12},
		{1_000_003, 14},
	}
	got := FitLine(points)
	if !approx(got.Slope, 2) {
		t.Errorf("slope = %v, want 2", got.Slope)
	}
	if !approx(got.At(1_000_002), 12) {
		t.Errorf("At(mid) = %v, want 12", got.At(1_000_002))
	}
}

func TestWindow(t *testing.T) {
	got := Window([]float64{1, 2, 3, 4, 5, 6}, 3)
	want := []Point{{4, 4}, {5, 5}, {6, 6}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Window()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
