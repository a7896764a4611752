// Package store содержит хранилища состояния дашборда.
//
// Хранилище работает как документное KV: значения сериализуются в JSON
// под строковыми ключами. Ошибки записи не прерывают работу движка,
// поэтому Set не возвращает ошибку, а реализации логируют сбои сами.
package store

import "context"

// Ключи, под которыми движок хранит своё состояние.
const (
	KeyCurrentSession = "whipdash:current-session"
	KeyLastSession    = "whipdash:last-session"
	KeyOrdersHistory  = "whipdash:orders-history"
)

// Store — документное KV-хранилище состояния.
type Store interface {
	// Get читает значение по ключу в dst. Возвращает false, если ключ
	// отсутствует или значение не удалось разобрать.
	Get(ctx context.Context, key string, dst any) bool
	// Set сохраняет значение по ключу. Сбой записи логируется,
	// но не возвращается вызывающему.
	Set(ctx context.Context, key string, value any)
}
