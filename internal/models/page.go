package models

// Параметры пагинации списков, общие для API и хранилища.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// ClampPage подставляет лимит по умолчанию и ограничивает его сверху.
// Отрицательное смещение заменяется нулем.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
