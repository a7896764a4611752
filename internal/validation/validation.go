// Package validation содержит функции валидации входных данных API.
package validation

import (
	"fmt"
	"time"
)

// ParseDate разбирает дату из параметров запроса. Принимает формат
// YYYY-MM-DD либо полную метку RFC 3339.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

// IsValidGoalAmount проверяет сумму цели по выручке в центах.
func IsValidGoalAmount(cents int64) bool {
	return cents > 0
}

// IsValidOrderPrice проверяет цену тестового заказа в центах.
// Ноль допустим: в этом случае цена выбирается случайно.
func IsValidOrderPrice(cents int64) bool {
	return cents >= 0
}
