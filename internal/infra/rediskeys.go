package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных подсистемы в Redis
	RedisNamespace = "ndjobi:emergency"
)

// Ключи состояния
const (
	// RedisKeyActiveWindow — зеркало активного окна для реплик и дашбордов
	// (источник правды — Postgres + менеджер, зеркало advisory-only)
	RedisKeyActiveWindow = RedisNamespace + ":active_window"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanStatus — трансляция переходов active/expired/revoked
	RedisChanStatus = RedisNamespace + ":status"
	// RedisChanAuthorityAcks — подтверждения получения от надзорных органов,
	// формат "activation_id:authority"
	RedisChanAuthorityAcks = RedisNamespace + ":acks"
)

// AuthorityChannel — канал доставки уведомлений конкретному органу
func AuthorityChannel(authority string) string {
	return fmt.Sprintf("%s:authority:%s", RedisNamespace, authority)
}
