package usage

import "testing"

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{0, ""},
		{-1, ""},
		{0.001, "$0.0010"},
		{0.0099, "$0.0099"},
		{0.0123, "$0.01"}, // >= 0.01 uses 2 decimal places
		{0.12, "$0.12"},
		{1.5, "$1.50"},
		{10.99, "$10.99"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatUSD(tt.amount)
			if got != tt.want {
				t.Errorf("FormatUSD(%f) = %q, want %q", tt.amount, got, tt.want)
			}
		})
	}
}

func TestFormatPercentage(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0.5, "0.50%"},
		{5, "5.0%"},
		{50, "50%"},
		{100, "100%"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatPercentage(tt.value)
			if got != tt.want {
				t.Errorf("FormatPercentage(%f) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestFormatDurationMs(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{500, "500ms"},
		{1500, "1.5s"},
		{90000, "1.5m"},
		{5400000, "1.5h"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatDurationMs(tt.ms)
			if got != tt.want {
				t.Errorf("FormatDurationMs(%d) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}
