package postgres

import (
	"errors"

	"gorm.io/gorm"

	"github.com/example/shopmart/internal/repository"
)

// translate maps gorm sentinel errors onto repository ones. Connect opens the
// database with TranslateError so duplicate keys surface as gorm.ErrDuplicatedKey.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return repository.ErrDuplicate
	default:
		return err
	}
}

func ensureAffected(res *gorm.DB, missing error) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return missing
	}
	return nil
}
