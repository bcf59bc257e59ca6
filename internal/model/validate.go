package model

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidatePrincipal は永続化前のPrincipalのフィールドを検証する。
func ValidatePrincipal(p *Principal) error {
	if err := validatorInstance().Struct(p); err != nil {
		return fmt.Errorf("invalid principal: %w", err)
	}
	return nil
}
