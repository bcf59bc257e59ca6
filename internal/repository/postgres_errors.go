package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

const (
	pqUniqueViolation = pq.ErrorCode("23505")
	// 08: connection_exception, 57P: operator_intervention（シャットダウン等）
	pqClassConnection = pq.ErrorClass("08")
	pqClassOperator   = pq.ErrorClass("57")
)

// uniqueConstraintFields は一意制約名と対象フィールドの対応。
var uniqueConstraintFields = map[string]string{
	"principals_external_id_key": model.FieldExternalID,
	"principals_email_key":       model.FieldEmail,
}

// wrapPQError はドライバエラーをドメインのエラー分類に変換する。
// 一意制約違反は*model.DuplicateIdentityError、接続系エラーはmodel.ErrStorageUnavailableになる。
func wrapPQError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == pqUniqueViolation {
			field, ok := uniqueConstraintFields[pqErr.Constraint]
			if !ok {
				field = pqErr.Constraint
			}
			return fmt.Errorf("%s: %w", op, &model.DuplicateIdentityError{Field: field, Err: err})
		}
		if class := pqErr.Code.Class(); class == pqClassConnection || class == pqClassOperator {
			return fmt.Errorf("%s: %w: %w", op, model.ErrStorageUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if isConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
