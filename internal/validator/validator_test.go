package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
)

func TestValidate_Line(t *testing.T) {
	line := model.NewLine()
	assert.NoError(t, Validate(line))

	line.Phone = "12-34"
	line.Status = "gone"
	err := Validate(line)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "field 'phone' failed validation: must be a phone number with 10 to 15 digits")
	assert.Contains(t, err.Error(), "field 'status' failed validation: must be one of: active banned inactive")
}

func TestValidateVar_Phone(t *testing.T) {
	assert.NoError(t, ValidateVar("5511999998888@s.whatsapp.net", "phone"))
	assert.ErrorIs(t, ValidateVar("123", "phone"), apperrors.ErrValidation)
}
