package validate

import (
	"errors"
	"testing"

	"github.com/go-seat-broker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type confirmBody struct {
	Success *bool `json:"success" validate:"required"`
}

func TestStruct_MissingRequired(t *testing.T) {
	err := Struct(confirmBody{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
	assert.Contains(t, err.Error(), "field 'Success' failed 'required'")
}

func TestStruct_FalseIsPresent(t *testing.T) {
	f := false
	assert.NoError(t, Struct(confirmBody{Success: &f}))
}
