package utils

import (
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"valid", "BTCUSDT", false},
		{"valid with digits", "1000PEPEUSDT", false},
		{"empty", "", true},
		{"lowercase", "btcusdt", true},
		{"with slash", "BTC/USDT", true},
		{"with whitespace", "BTC USDT", true},
		{"too short", "B", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTimeframe(t *testing.T) {
	if err := ValidateTimeframe("5m"); err != nil {
		t.Errorf("5m should be valid: %v", err)
	}
	if err := ValidateTimeframe("banana"); err == nil {
		t.Error("banana should be invalid")
	}
}

func TestValidateQuantity(t *testing.T) {
	if err := ValidateQuantity(0.001); err != nil {
		t.Errorf("positive quantity should be valid: %v", err)
	}
	if err := ValidateQuantity(0); err == nil {
		t.Error("zero quantity should be invalid")
	}
	if err := ValidateQuantity(-1); err == nil {
		t.Error("negative quantity should be invalid")
	}
}

func TestValidatePrice(t *testing.T) {
	if err := ValidatePrice(50000); err != nil {
		t.Errorf("positive price should be valid: %v", err)
	}
	if err := ValidatePrice(0); err != nil {
		t.Errorf("zero price (market) should be valid: %v", err)
	}
	if err := ValidatePrice(-0.01); err == nil {
		t.Error("negative price should be invalid")
	}
}

func TestValidateFraction(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{"half", 0.5, false},
		{"one", 1.0, false},
		{"zero", 0, true},
		{"negative", -0.1, true},
		{"above one", 1.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFraction("max_drawdown", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFraction(%f) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestValidateInstanceID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid", "btc-momentum-1", false},
		{"empty", "", true},
		{"with colon", "btc:1", true},
		{"with space", "btc momentum", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInstanceID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateInstanceID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
