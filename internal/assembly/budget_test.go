package assembly

import "testing"

func TestBudget_Chars(t *testing.T) {
	tests := []struct {
		name string
		b    Budget
		want int
	}{
		{"zero uses default model", Budget{}, (200000 - 60000) * 4},
		{"tokens win over chars", Budget{MaxTokens: 100, MaxChars: 5}, 400},
		{"explicit chars", Budget{MaxChars: 1234}, 1234},
		{"explicit window", Budget{ContextTokens: 1000, ReservedTokens: 200}, 3200},
		{"reserved fraction", Budget{ContextTokens: 1000, ReservedFraction: 0.25}, 3000},
		{"window defaults reserve from model", Budget{ContextTokens: 100000}, 40000 * 4},
		{"unknown model falls back", Budget{ModelID: "mystery"}, (200000 - 60000) * 4},
		{"reserve larger than window", Budget{ContextTokens: 10, ReservedTokens: 50}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Chars(); got != tt.want {
				t.Errorf("Chars() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBudget_Merge(t *testing.T) {
	configured := Budget{MaxChars: 5000, ReservedFraction: 0.5, ModelID: "opus-4.5"}
	tests := []struct {
		name string
		over Budget
		want Budget
	}{
		{"zero keeps configured", Budget{}, configured},
		{"model only keeps limits", Budget{ModelID: "mystery"}, Budget{MaxChars: 5000, ReservedFraction: 0.5, ModelID: "mystery"}},
		{"chars replace chars", Budget{MaxChars: 10}, Budget{MaxChars: 10, ReservedFraction: 0.5, ModelID: "opus-4.5"}},
		{"tokens replace chars", Budget{MaxTokens: 10}, Budget{MaxTokens: 10, ReservedFraction: 0.5, ModelID: "opus-4.5"}},
		{"reserve tokens replace fraction", Budget{ReservedTokens: 7}, Budget{MaxChars: 5000, ReservedTokens: 7, ModelID: "opus-4.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := configured.Merge(tt.over); got != tt.want {
				t.Errorf("Merge() = %+v, want %+v", got, tt.want)
			}
		})
	}
	if got := configured.Merge(Budget{ModelID: "mystery"}).Chars(); got != 5000 {
		t.Errorf("model-only request resolved to %d chars, want configured 5000", got)
	}
}

func TestLookupModel(t *testing.T) {
	m, ok := LookupModel(DefaultModelID)
	if !ok || m.ContextTokens != 200000 || m.ReservedTokens != 60000 {
		t.Errorf("LookupModel(default) = %+v, %v", m, ok)
	}
	if _, ok := LookupModel("nope"); ok {
		t.Error("unknown model found")
	}
}
