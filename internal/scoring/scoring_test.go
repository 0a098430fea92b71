package scoring

import (
	"math"
	"testing"
)

func TestAverage(t *testing.T) {
	tests := []struct {
		name  string
		tally Tally
		want  float64
	}{
		{"empty", Tally{}, 0},
		{"single", Tally{Total: 4, Count: 1}, 4},
		{"round-down", Tally{Total: 161, Count: 41}, 3.9},
		{"round-up", Tally{Total: 11, Count: 3}, 3.7},
		{"tie-to-even-down", Tally{Total: 1, Count: 4}, 0.2},
		{"tie-to-even-up", Tally{Total: 3, Count: 4}, 0.8},
		{"quarter", Tally{Total: 9, Count: 4}, 2.2},
		{"three-quarters", Tally{Total: 11, Count: 4}, 2.8},
		{"quarter-high", Tally{Total: 17, Count: 4}, 4.2},
		{"three-quarters-high", Tally{Total: 19, Count: 4}, 4.8},
		{"below-tie", Tally{Total: 3, Count: 20}, 0.1},
		{"below-tie-odd", Tally{Total: 7, Count: 20}, 0.3},
		{"all-zero", Tally{Total: 0, Count: 7}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Average(tt.tally); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Average(%+v) = %v, want %v", tt.tally, got, tt.want)
			}
		})
	}
}

func TestAverageMatchesManualSum(t *testing.T) {
	for total := int64(0); total <= 50; total++ {
		for count := int64(1); count <= 10; count++ {
			if total > count*5 {
				continue
			}
			got := Average(Tally{Total: total, Count: count})
			exact := float64(total) / float64(count)
			if math.Abs(got-exact) > 0.05+1e-9 {
				t.Fatalf("Average(%d/%d) = %v, too far from %v", total, count, got, exact)
			}
			if tenths := got * 10; math.Abs(tenths-math.Round(tenths)) > 1e-9 {
				t.Fatalf("Average(%d/%d) = %v has more than one decimal", total, count, got)
			}
			if got < 0 || got > 5 {
				t.Fatalf("Average(%d/%d) = %v out of range", total, count, got)
			}
		}
	}
}

func TestSlope(t *testing.T) {
	tests := []struct {
		name             string
		today, hist, out float64
	}{
		{"no history", 3.0, 0, 0},
		{"decline", 1.0, 4.0, -3.0},
		{"rise", 4.5, 4.0, 0.5},
		{"float noise", 2.3, 2.1, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slope(tt.today, tt.hist); math.Abs(got-tt.out) > 1e-9 {
				t.Fatalf("Slope(%v, %v) = %v, want %v", tt.today, tt.hist, got, tt.out)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	history := Tally{Total: 160, Count: 40}
	oneLow := Tally{Total: 1, Count: 1}

	tests := []struct {
		name       string
		historical Tally
		today      Tally
		threshold  float64
		wantScore  float64
		wantMerged bool
		wantSlope  float64
	}{
		{"no ratings", Tally{}, Tally{}, 1.0, 0, true, 0},
		{"only today", Tally{}, Tally{Total: 12, Count: 3}, 1.0, 4.0, true, 0},
		{"steep drop discarded", history, oneLow, 1.0, 4.0, false, -3.0},
		{"steep drop within wide threshold", history, oneLow, 5.0, 3.9, true, -3.0},
		{"negative threshold uses magnitude", history, oneLow, -5.0, 3.9, true, -3.0},
		{"no activity today", history, Tally{}, 1.0, 4.0, false, -4.0},
		{"positive trend merged", history, Tally{Total: 10, Count: 2}, 0, 4.0, true, 1.0},
		{"boundary equal to threshold", Tally{Total: 40, Count: 10}, Tally{Total: 3, Count: 1}, 1.0, 3.9, true, -1.0},
		{"merged tie rounds to even", Tally{Total: 5, Count: 1}, Tally{Total: 4, Count: 3}, 5.0, 2.2, true, -3.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Resolve(tt.historical, tt.today, tt.threshold)
			if math.Abs(d.Score-tt.wantScore) > 1e-9 {
				t.Fatalf("Score = %v, want %v (decision %+v)", d.Score, tt.wantScore, d)
			}
			if d.Merged != tt.wantMerged {
				t.Fatalf("Merged = %v, want %v (decision %+v)", d.Merged, tt.wantMerged, d)
			}
			if math.Abs(d.Slope-tt.wantSlope) > 1e-9 {
				t.Fatalf("Slope = %v, want %v", d.Slope, tt.wantSlope)
			}
		})
	}
}

func TestResolveMergeLaw(t *testing.T) {
	thresholds := []float64{0, 0.5, 1, 2.5, 5}
	for ht := int64(0); ht <= 20; ht += 3 {
		for hc := int64(0); hc <= 4; hc++ {
			if ht > hc*5 {
				continue
			}
			for tt := int64(0); tt <= 10; tt += 2 {
				for tc := int64(0); tc <= 2; tc++ {
					if tt > tc*5 {
						continue
					}
					for _, threshold := range thresholds {
						hist, today := Tally{ht, hc}, Tally{tt, tc}
						d := Resolve(hist, today, threshold)

						var want float64
						if Slope(Average(today), Average(hist)) >= -threshold {
							want = Average(hist.Add(today))
						} else {
							want = Average(hist)
						}
						if d.Score != want {
							t.Fatalf("Resolve(%+v, %+v, %v) = %v, want %v", hist, today, threshold, d.Score, want)
						}
					}
				}
			}
		}
	}
}
