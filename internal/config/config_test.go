package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Тесты Load (переменные окружения)
// ============================================================

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Name != "xbot" {
		t.Errorf("expected default db name xbot, got %s", cfg.Database.Name)
	}
	if cfg.Engine.MaxRestarts != 5 {
		t.Errorf("expected default max restarts 5, got %d", cfg.Engine.MaxRestarts)
	}
	if cfg.Engine.OrderTimeout != 5*time.Second {
		t.Errorf("expected default order timeout 5s, got %v", cfg.Engine.OrderTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Clearenv()
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ORDER_TIMEOUT", "10s")
	t.Setenv("MAX_RESTARTS", "2")
	t.Setenv("API_TOKEN_HASH", "$2a$10$abcdefghijklmnopqrstuv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Engine.OrderTimeout != 10*time.Second {
		t.Errorf("expected order timeout 10s, got %v", cfg.Engine.OrderTimeout)
	}
	if cfg.Engine.MaxRestarts != 2 {
		t.Errorf("expected max restarts 2, got %d", cfg.Engine.MaxRestarts)
	}
	if cfg.Security.APITokenHash != "$2a$10$abcdefghijklmnopqrstuv" {
		t.Errorf("unexpected api token hash: %s", cfg.Security.APITokenHash)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"invalid port", map[string]string{"SERVER_PORT": "99999"}},
		{"negative restarts", map[string]string{"MAX_RESTARTS": "-1"}},
		{"zero workers", map[string]string{"SCHEDULER_WORKERS": "0"}},
		{"excessive retries", map[string]string{"MAX_RETRIES": "50"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, err := Load(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: 5432, Name: "xbot",
		User: "u", Password: "secret", SSLMode: "disable",
	}

	dsn := d.DSN()
	if !strings.Contains(dsn, "password=secret") {
		t.Error("DSN should contain password")
	}
	if strings.Contains(d.DSNWithoutPassword(), "secret") {
		t.Error("DSNWithoutPassword should not contain password")
	}
}

// ============================================================
// Тесты LoadBots
// ============================================================

func writeBotsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bots.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write bots file: %v", err)
	}
	return path
}

const validBots = `{
	"exchange": "bybit",
	"testnet": true,
	"capital": 10000,
	"risk": {
		"max_position_size": 0.5,
		"max_drawdown": 0.2,
		"stop_loss": 0.02,
		"take_profit": 0.05
	},
	"bots": [
		{
			"id": "btc-momentum-1",
			"strategy": "momentum",
			"pairs": ["BTCUSDT"],
			"timeframe": "1m",
			"order_notional": 1000,
			"lot_size": 0.001,
			"params": {"window": 14}
		},
		{
			"id": "eth-grid-1",
			"strategy": "grid",
			"pairs": ["ETHUSDT"],
			"timeframe": "5m",
			"tick_driven": true,
			"dca_mode": true
		}
	]
}`

func TestLoadBots(t *testing.T) {
	path := writeBotsFile(t, validBots)

	bf, err := LoadBots(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if bf.Exchange != "bybit" {
		t.Errorf("expected exchange bybit, got %s", bf.Exchange)
	}
	if !bf.Testnet {
		t.Error("expected testnet true")
	}
	if len(bf.Bots) != 2 {
		t.Fatalf("expected 2 bots, got %d", len(bf.Bots))
	}
	if bf.Bots[0].Params["window"] != float64(14) {
		t.Errorf("params not decoded: %v", bf.Bots[0].Params)
	}
	if !bf.Bots[1].DCAMode {
		t.Error("expected dca_mode true for second bot")
	}

	symbols := bf.Symbols()
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Errorf("unexpected symbols: %v", symbols)
	}
}

func TestLoadBotsRejectsUnknownKeys(t *testing.T) {
	path := writeBotsFile(t, `{
		"exchange": "bybit",
		"capital": 10000,
		"max_positon_size": 0.5,
		"risk": {"max_position_size": 0.5, "max_drawdown": 0.2},
		"bots": [{"id": "a", "strategy": "s", "pairs": ["BTCUSDT"], "timeframe": "1m"}]
	}`)

	if _, err := LoadBots(path); err == nil {
		t.Error("expected error for unknown key, got nil")
	}
}

func TestLoadBotsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"missing exchange",
			`{"capital": 10000, "risk": {"max_position_size": 0.5, "max_drawdown": 0.2},
			  "bots": [{"id": "a", "strategy": "s", "pairs": ["BTCUSDT"], "timeframe": "1m"}]}`,
		},
		{
			"zero capital",
			`{"exchange": "bybit", "capital": 0, "risk": {"max_position_size": 0.5, "max_drawdown": 0.2},
			  "bots": [{"id": "a", "strategy": "s", "pairs": ["BTCUSDT"], "timeframe": "1m"}]}`,
		},
		{
			"drawdown above one",
			`{"exchange": "bybit", "capital": 10000, "risk": {"max_position_size": 0.5, "max_drawdown": 1.5},
			  "bots": [{"id": "a", "strategy": "s", "pairs": ["BTCUSDT"], "timeframe": "1m"}]}`,
		},
		{
			"no bots",
			`{"exchange": "bybit", "capital": 10000, "risk": {"max_position_size": 0.5, "max_drawdown": 0.2},
			  "bots": []}`,
		},
		{
			"empty pairs",
			`{"exchange": "bybit", "capital": 10000, "risk": {"max_position_size": 0.5, "max_drawdown": 0.2},
			  "bots": [{"id": "a", "strategy": "s", "pairs": [], "timeframe": "1m"}]}`,
		},
		{
			"bad timeframe",
			`{"exchange": "bybit", "capital": 10000, "risk": {"max_position_size": 0.5, "max_drawdown": 0.2},
			  "bots": [{"id": "a", "strategy": "s", "pairs": ["BTCUSDT"], "timeframe": "2x"}]}`,
		},
		{
			"bad symbol",
			`{"exchange": "bybit", "capital": 10000, "risk": {"max_position_size": 0.5, "max_drawdown": 0.2},
			  "bots": [{"id": "a", "strategy": "s", "pairs": ["btc/usdt"], "timeframe": "1m"}]}`,
		},
		{
			"instance id with colon",
			`{"exchange": "bybit", "capital": 10000, "risk": {"max_position_size": 0.5, "max_drawdown": 0.2},
			  "bots": [{"id": "a:1", "strategy": "s", "pairs": ["BTCUSDT"], "timeframe": "1m"}]}`,
		},
		{
			"duplicate ids",
			`{"exchange": "bybit", "capital": 10000, "risk": {"max_position_size": 0.5, "max_drawdown": 0.2},
			  "bots": [{"id": "a", "strategy": "s", "pairs": ["BTCUSDT"], "timeframe": "1m"},
			           {"id": "a", "strategy": "s", "pairs": ["ETHUSDT"], "timeframe": "1m"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeBotsFile(t, tt.content)
			if _, err := LoadBots(path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadBotsMissingFile(t *testing.T) {
	if _, err := LoadBots("/nonexistent/bots.json"); err == nil {
		t.Error("expected error for missing file")
	}
}
