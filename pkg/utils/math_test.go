package utils

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// ============================================================
// Тесты RoundToLotSize
// ============================================================

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"rounds down", 0.123456, 0.001, 0.123},
		{"already aligned", 1.99, 0.01, 1.99},
		{"whole lot", 100.5, 1.0, 100.0},
		{"zero lot size returns value", 0.12345, 0, 0.12345},
		{"negative lot size returns value", 0.12345, -1, 0.12345},
		{"value smaller than lot", 0.0005, 0.001, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSize(tt.value, tt.lotSize)
			if !almostEqual(result, tt.expected) {
				t.Errorf("RoundToLotSize(%f, %f) = %f, want %f", tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestRoundToLotSizeUp(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"rounds up", 0.1231, 0.001, 0.124},
		{"already aligned", 0.123, 0.001, 0.123},
		{"below min qty", 0.0005, 0.001, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSizeUp(tt.value, tt.lotSize)
			if !almostEqual(result, tt.expected) {
				t.Errorf("RoundToLotSizeUp(%f, %f) = %f, want %f", tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestRoundToLotSizeNearest(t *testing.T) {
	if got := RoundToLotSizeNearest(0.1234, 0.001); !almostEqual(got, 0.123) {
		t.Errorf("expected 0.123, got %f", got)
	}
	if got := RoundToLotSizeNearest(0.1236, 0.001); !almostEqual(got, 0.124) {
		t.Errorf("expected 0.124, got %f", got)
	}
}

// ============================================================
// Тесты CalculateWeightedAverage
// ============================================================

func TestCalculateWeightedAverage(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		weights  []float64
		expected float64
	}{
		{"two fills", []float64{50000, 50100}, []float64{0.5, 0.5}, 50050},
		{"uneven weights", []float64{100, 200}, []float64{3, 1}, 125},
		{"single fill", []float64{50000}, []float64{0.01}, 50000},
		{"mismatched lengths", []float64{1, 2}, []float64{1}, 0},
		{"empty", nil, nil, 0},
		{"zero weights", []float64{100, 200}, []float64{0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateWeightedAverage(tt.values, tt.weights)
			if !almostEqual(result, tt.expected) {
				t.Errorf("CalculateWeightedAverage = %f, want %f", result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты CalculatePNL
// ============================================================

func TestCalculatePNL(t *testing.T) {
	tests := []struct {
		name     string
		side     string
		entry    float64
		current  float64
		quantity float64
		expected float64
	}{
		{"long profit", "long", 50000, 51000, 0.1, 100},
		{"long loss", "long", 50000, 49000, 0.1, -100},
		{"short profit", "short", 50000, 49000, 0.1, 100},
		{"short loss", "short", 50000, 51000, 0.1, -100},
		{"zero quantity", "long", 50000, 51000, 0, 0},
		{"unknown side", "flat", 50000, 51000, 0.1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculatePNL(tt.side, tt.entry, tt.current, tt.quantity)
			if !almostEqual(result, tt.expected) {
				t.Errorf("CalculatePNL = %f, want %f", result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты CalculateDrawdown
// ============================================================

func TestCalculateDrawdown(t *testing.T) {
	tests := []struct {
		name     string
		peak     float64
		current  float64
		expected float64
	}{
		{"ten percent", 10000, 9000, 0.1},
		{"at peak", 10000, 10000, 0},
		{"above peak", 10000, 11000, 0},
		{"zero peak", 0, 100, 0},
		{"total loss", 10000, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateDrawdown(tt.peak, tt.current)
			if !almostEqual(result, tt.expected) {
				t.Errorf("CalculateDrawdown(%f, %f) = %f, want %f", tt.peak, tt.current, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты вспомогательных функций
// ============================================================

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 10); got != 5 {
		t.Errorf("expected 5, got %f", got)
	}
	if got := Clamp(-1, 0, 10); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
	if got := Clamp(15, 0, 10); got != 10 {
		t.Errorf("expected 10, got %f", got)
	}
}

func TestMinMax(t *testing.T) {
	if got := Min(1, 2); got != 1 {
		t.Errorf("Min: expected 1, got %f", got)
	}
	if got := Max(1, 2); got != 2 {
		t.Errorf("Max: expected 2, got %f", got)
	}
	if got := Abs(-3.5); got != 3.5 {
		t.Errorf("Abs: expected 3.5, got %f", got)
	}
}
