package sqldb

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestDialect_Rebind(t *testing.T) {
	pg := dialect{driver: "postgres"}
	lite := dialect{driver: "sqlite3"}

	q := `UPDATE users SET email = ?, stage = ? WHERE id = ?`
	assert.Equal(t, `UPDATE users SET email = $1, stage = $2 WHERE id = $3`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
	assert.Equal(t, `SELECT 1`, pg.rebind(`SELECT 1`))
}

func TestTranslateError(t *testing.T) {
	assert.ErrorIs(t, translateError(&pq.Error{Code: "23505"}), ErrDuplicate)
	assert.ErrorIs(t, translateError(&pq.Error{Code: "23503"}), ErrForeignKey)
	assert.ErrorIs(t, translateError(&pq.Error{Code: "23514"}), ErrConstraint)
	assert.ErrorIs(t, translateError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}), ErrDuplicate)

	other := errors.New("connection reset")
	assert.Equal(t, other, translateError(other))
	assert.Nil(t, translateError(nil))
}
