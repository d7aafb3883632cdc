package sqlite

import (
	sq "github.com/Masterminds/squirrel"
)

// Builder returns a squirrel statement builder using SQLite placeholders.
func Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// whereable is implemented by squirrel builders that accept WHERE clauses.
type whereable[T any] interface {
	Where(pred any, args ...any) T
}

// WhereIf adds pred to b only when cond holds.
func WhereIf[T whereable[T]](b T, cond bool, pred any, args ...any) T {
	if !cond {
		return b
	}
	return b.Where(pred, args...)
}
