package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"om-smart-go/internal/model"
)

// notFound 把 gorm.ErrRecordNotFound 转换为 model.ErrNotFound。
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", model.ErrNotFound, err)
	}
	return err
}
