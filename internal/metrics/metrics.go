// Package metrics содержит производные показатели для карточек дашборда.
// Все функции чистые: они пересчитывают представление из состояния сессии
// и не имеют побочных эффектов.
package metrics

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mmeshcher/whipdash-system/internal/model"
)

var usPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatCurrency форматирует сумму в центах как доллары США с разделителями
// групп разрядов.
func FormatCurrency(cents int64) string {
	return usPrinter.Sprintf("$%.2f", model.Dollars(cents))
}

// FormatDuration форматирует длительность в секундах как "ч:мм:сс",
// либо "м:сс", если часов нет.
func FormatDuration(seconds int) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

// FormatSessionLength форматирует длительность завершённой сессии
// в виде "5m" или "1h 23m".
func FormatSessionLength(start, end time.Time) string {
	minutes := int(end.Sub(start).Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// ProgressPercent возвращает процент достижения цели с точностью до одной
// десятой, с усечением вниз. Значение не ограничено сверху.
func ProgressPercent(current, goal int64) float64 {
	if goal <= 0 {
		return 0
	}
	percentage := float64(current) / float64(goal) * 100
	return math.Floor(percentage*10) / 10
}

// ProgressWidth возвращает заполнение индикатора прогресса в диапазоне 0-100.
func ProgressWidth(current, goal int64) float64 {
	if goal <= 0 {
		return 0
	}
	return math.Min(float64(current)/float64(goal)*100, 100)
}

// DurationColor возвращает цветовую зону индикатора длительности.
func DurationColor(seconds int) string {
	switch {
	case seconds < 300:
		return "green"
	case seconds < 900:
		return "yellow"
	case seconds < 1800:
		return "orange"
	default:
		return "red"
	}
}

// SalesColor возвращает цветовую зону индикатора выручки по проценту
// достижения цели.
func SalesColor(current, goal int64) string {
	if goal <= 0 {
		return "red"
	}
	p := float64(current) / float64(goal) * 100
	switch {
	case p >= 100:
		return "green"
	case p >= 80:
		return "lime"
	case p >= 60:
		return "yellow"
	case p >= 30:
		return "orange"
	default:
		return "red"
	}
}

// RemainingMinutes возвращает оставшееся до цели по длительности время
// в полных минутах.
func RemainingMinutes(seconds, goalSeconds int) int {
	remaining := goalSeconds - seconds
	if remaining < 0 {
		remaining = 0
	}
	return remaining / 60
}

// RemainingCents возвращает оставшуюся до цели по выручке сумму в центах.
func RemainingCents(current, goal int64) int64 {
	if current >= goal {
		return 0
	}
	return goal - current
}

// TrendDirection указывает направление изменения относительно прошлой сессии.
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendSame TrendDirection = "same"
	TrendNone TrendDirection = "none"
)

// Trend описывает сравнение числа заказов с прошлой сессией.
type Trend struct {
	Percent   int            `json:"percent"`
	Direction TrendDirection `json:"direction"`
	Text      string         `json:"text"`
}

// OrdersTrend сравнивает число заказов текущей сессии с прошлой.
// При отсутствии данных прошлой сессии процент не вычисляется.
func OrdersTrend(current, last int) Trend {
	if last == 0 && current == 0 {
		return Trend{Percent: 0, Direction: TrendNone, Text: "No data from last session"}
	}
	if last == 0 {
		return Trend{Percent: 100, Direction: TrendUp, Text: "New orders this session"}
	}

	change := int(math.Round(float64(current-last) / float64(last) * 100))
	switch {
	case change > 0:
		return Trend{Percent: change, Direction: TrendUp, Text: fmt.Sprintf("+%d%% from last session", change)}
	case change < 0:
		return Trend{Percent: change, Direction: TrendDown, Text: fmt.Sprintf("%d%% from last session", change)}
	default:
		return Trend{Percent: 0, Direction: TrendSame, Text: "Same as last session"}
	}
}

// AverageOrderCents возвращает среднюю стоимость заказа в центах.
func AverageOrderCents(totalSalesCents int64, totalOrders int) int64 {
	if totalOrders == 0 {
		return 0
	}
	return int64(math.Round(float64(totalSalesCents) / float64(totalOrders)))
}

// HistoryStats — сводная статистика по завершённым сессиям.
type HistoryStats struct {
	TotalSessions          int     `json:"totalSessions"`
	TotalRevenue           float64 `json:"totalRevenue"`
	TotalOrders            int     `json:"totalOrders"`
	AverageSessionRevenue  float64 `json:"averageSessionRevenue"`
	AverageOrderValue      float64 `json:"averageOrderValue"`
	BestSessionID          string  `json:"bestSessionId,omitempty"`
	AverageSessionDuration float64 `json:"averageSessionDurationMinutes"`
}

// ComputeHistoryStats агрегирует статистику по списку завершённых сессий.
func ComputeHistoryStats(history []model.SessionHistory) HistoryStats {
	if len(history) == 0 {
		return HistoryStats{}
	}

	var revenueCents int64
	var orders int
	var durationMinutes int
	best := history[0]

	for _, s := range history {
		revenueCents += s.TotalSalesCents
		orders += s.TotalOrders
		durationMinutes += int(s.EndTime.Sub(s.StartTime).Minutes())
		if s.TotalSalesCents > best.TotalSalesCents {
			best = s
		}
	}

	n := len(history)
	stats := HistoryStats{
		TotalSessions:          n,
		TotalRevenue:           model.Dollars(revenueCents),
		TotalOrders:            orders,
		AverageSessionRevenue:  model.Dollars(int64(math.Round(float64(revenueCents) / float64(n)))),
		BestSessionID:          best.SessionID,
		AverageSessionDuration: float64(durationMinutes) / float64(n),
	}
	if orders > 0 {
		stats.AverageOrderValue = model.Dollars(AverageOrderCents(revenueCents, orders))
	}
	return stats
}
