package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"xbot/pkg/utils"
)

// Строгий декодер: неизвестный ключ в файле ботов - ошибка загрузки,
// а не молчаливое игнорирование
var strictJSON = jsoniter.Config{DisallowUnknownFields: true}.Froze()

// BotsFile - определение ботов и глобальных риск-лимитов
type BotsFile struct {
	Exchange string `json:"exchange"`
	Testnet  bool   `json:"testnet"`

	// Capital - выделенный капитал в котируемой валюте
	Capital float64 `json:"capital"`

	Risk RiskLimits  `json:"risk"`
	Bots []BotConfig `json:"bots"`
}

// RiskLimits - глобальные лимиты риск-менеджера
type RiskLimits struct {
	// MaxPositionSize - доля капитала на один символ (0.5 = 50%)
	MaxPositionSize float64 `json:"max_position_size"`
	// MaxDrawdown - допустимая просадка от пика капитала
	MaxDrawdown float64 `json:"max_drawdown"`
	// StopLoss/TakeProfit - доли от цены входа по умолчанию, 0 = выключено
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// BotConfig - определение одного инстанса
type BotConfig struct {
	ID        string   `json:"id"`
	Strategy  string   `json:"strategy"`
	Pairs     []string `json:"pairs"`
	Timeframe string   `json:"timeframe"`

	TickDriven bool `json:"tick_driven"`
	// DCAMode разрешает усреднение: новые fill вливаются в одну
	// средневзвешенную позицию вместо отказа от входа
	DCAMode bool `json:"dca_mode"`

	OrderNotional float64 `json:"order_notional"`
	LotSize       float64 `json:"lot_size"`
	HistorySize   int     `json:"history_size"`

	// StrategyTimeoutSec - потолок одного вызова стратегии в секундах,
	// 0 = значение движка по умолчанию
	StrategyTimeoutSec float64 `json:"strategy_timeout_sec"`

	// Переопределения глобальных уровней защиты, 0 = взять глобальные
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`

	// Params передаются стратегии в Setup как есть
	Params map[string]interface{} `json:"params"`
}

// LoadBots читает и валидирует файл определений ботов
func LoadBots(path string) (*BotsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bots file: %w", err)
	}

	var bf BotsFile
	if err := strictJSON.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parse bots file %s: %w", path, err)
	}

	if err := bf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bots file %s: %w", path, err)
	}

	return &bf, nil
}

// Validate проверяет определения ботов и риск-лимиты
func (bf *BotsFile) Validate() error {
	if bf.Exchange == "" {
		return fmt.Errorf("exchange is required")
	}
	if bf.Capital <= 0 {
		return fmt.Errorf("capital must be positive, got %f", bf.Capital)
	}

	if err := utils.ValidateFraction("risk.max_position_size", bf.Risk.MaxPositionSize); err != nil {
		return err
	}
	if err := utils.ValidateFraction("risk.max_drawdown", bf.Risk.MaxDrawdown); err != nil {
		return err
	}
	if bf.Risk.StopLoss != 0 {
		if err := utils.ValidateFraction("risk.stop_loss", bf.Risk.StopLoss); err != nil {
			return err
		}
	}
	if bf.Risk.TakeProfit != 0 {
		if err := utils.ValidateFraction("risk.take_profit", bf.Risk.TakeProfit); err != nil {
			return err
		}
	}

	if len(bf.Bots) == 0 {
		return fmt.Errorf("at least one bot is required")
	}

	seen := make(map[string]bool, len(bf.Bots))
	for i := range bf.Bots {
		if err := bf.Bots[i].validate(); err != nil {
			return fmt.Errorf("bot %d: %w", i, err)
		}
		if seen[bf.Bots[i].ID] {
			return fmt.Errorf("duplicate bot id %q", bf.Bots[i].ID)
		}
		seen[bf.Bots[i].ID] = true
	}

	return nil
}

func (b *BotConfig) validate() error {
	if err := utils.ValidateInstanceID(b.ID); err != nil {
		return err
	}
	if b.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if len(b.Pairs) == 0 {
		return fmt.Errorf("pairs must not be empty")
	}
	for _, sym := range b.Pairs {
		if err := utils.ValidateSymbol(sym); err != nil {
			return err
		}
	}
	if err := utils.ValidateTimeframe(b.Timeframe); err != nil {
		return err
	}
	if b.OrderNotional < 0 {
		return fmt.Errorf("order_notional must be non-negative, got %f", b.OrderNotional)
	}
	if b.LotSize < 0 {
		return fmt.Errorf("lot_size must be non-negative, got %f", b.LotSize)
	}
	if b.HistorySize < 0 {
		return fmt.Errorf("history_size must be non-negative, got %d", b.HistorySize)
	}
	if b.StrategyTimeoutSec < 0 {
		return fmt.Errorf("strategy_timeout_sec must be non-negative, got %f", b.StrategyTimeoutSec)
	}
	if b.StopLoss != 0 {
		if err := utils.ValidateFraction("stop_loss", b.StopLoss); err != nil {
			return err
		}
	}
	if b.TakeProfit != 0 {
		if err := utils.ValidateFraction("take_profit", b.TakeProfit); err != nil {
			return err
		}
	}
	return nil
}

// Symbols возвращает отсортированный по порядку появления список
// уникальных символов всех ботов (для подписки фида)
func (bf *BotsFile) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, b := range bf.Bots {
		for _, sym := range b.Pairs {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out
}
