package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Разбор таймфреймов, выравнивание времени по границам свечей,
// конвертация Unix-timestamp.
//
// Функции:
// - ParseTimeframe: "1m", "5m", "1h" → time.Duration
// - AlignToTimeframe: округление времени вниз до границы свечи
// - NextCandleOpen: время открытия следующей свечи
// - FormatDuration: человекочитаемая продолжительность

// Поддерживаемые таймфреймы
var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe разбирает строку таймфрейма в продолжительность.
//
// Принимает стандартные обозначения бирж: "1m", "5m", "1h", "1d".
// Для нестандартных значений пытается разобрать как <число><единица>.
//
// Возвращает:
//   - Продолжительность свечи
//   - Ошибку, если формат не распознан или значение <= 0
func ParseTimeframe(tf string) (time.Duration, error) {
	if d, ok := timeframes[tf]; ok {
		return d, nil
	}

	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}

	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}

	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe unit %q", tf)
	}
}

// IsValidTimeframe возвращает true для распознаваемого таймфрейма
func IsValidTimeframe(tf string) bool {
	_, err := ParseTimeframe(tf)
	return err == nil
}

// AlignToTimeframe округляет время ВНИЗ до границы свечи.
//
// Используется для вычисления open_time свечи, которой принадлежит
// произвольный момент времени. Выравнивание - от эпохи Unix в UTC.
//
// Примеры:
//   - AlignToTimeframe(12:34:56, 5m) = 12:30:00
//   - AlignToTimeframe(12:34:56, 1h) = 12:00:00
func AlignToTimeframe(t time.Time, tf time.Duration) time.Time {
	if tf <= 0 {
		return t
	}
	return t.UTC().Truncate(tf)
}

// NextCandleOpen возвращает время открытия следующей свечи
func NextCandleOpen(t time.Time, tf time.Duration) time.Time {
	if tf <= 0 {
		return t
	}
	return AlignToTimeframe(t, tf).Add(tf)
}

// SameCandle возвращает true, если оба момента принадлежат одной свече
func SameCandle(a, b time.Time, tf time.Duration) bool {
	return AlignToTimeframe(a, tf).Equal(AlignToTimeframe(b, tf))
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var b strings.Builder
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if minutes > 0 {
		fmt.Fprintf(&b, "%dm", minutes)
	}
	if seconds > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%ds", seconds)
	}
	return b.String()
}

// ============================================================
// Утилиты для timestamp
// ============================================================

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ToUTC конвертирует время в UTC
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}
