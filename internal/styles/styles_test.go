package styles

import "testing"

func TestGet_FallsBackToFantasy(t *testing.T) {
	if Get("no-such-style").Name != "fantasy" {
		t.Fatal("unknown preset must fall back to fantasy")
	}
	if Get("  Anime ").Name != "anime" {
		t.Fatal("lookup must be case and whitespace insensitive")
	}
	if Known("no-such-style") {
		t.Fatal("Known must not fall back")
	}
}

func TestParams_OverridesLayerOverDefaults(t *testing.T) {
	p := Get("realistic").Params()
	if p.Steps != 40 || p.CFGScale != 6 {
		t.Fatalf("overrides not applied: %+v", p)
	}
	if p.Width != DefaultParams.Width || p.Sampler != DefaultParams.Sampler {
		t.Fatalf("defaults not kept: %+v", p)
	}

	noir := Get("noir").Params()
	if noir.Sampler != "dpm_2m" || noir.Steps != DefaultParams.Steps {
		t.Fatalf("noir params: %+v", noir)
	}
}

func TestNames_SortedAndComplete(t *testing.T) {
	names := Names()
	if len(names) != 5 {
		t.Fatalf("presets = %d, want 5", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}
