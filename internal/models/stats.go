package models

import "time"

// InstanceStats - торговая статистика одного инстанса
type InstanceStats struct {
	InstanceID    string    `json:"instance_id"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	TotalPNL      float64   `json:"total_pnl"`
	StartedAt     time.Time `json:"started_at,omitempty"`
}

// WinRate возвращает процент прибыльных сделок
func (s *InstanceStats) WinRate() float64 {
	total := s.WinningTrades + s.LosingTrades
	if total == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(total) * 100
}

// Uptime возвращает время работы инстанса в секундах
func (s *InstanceStats) Uptime() float64 {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt).Seconds()
}

// RecordTrade учитывает закрытую сделку
func (s *InstanceStats) RecordTrade(pnl float64) {
	s.TotalTrades++
	s.TotalPNL += pnl
	if pnl > 0 {
		s.WinningTrades++
	} else {
		s.LosingTrades++
	}
}
