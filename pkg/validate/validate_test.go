package validate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Method    string  `default:"zscore" validate:"oneof=zscore iqr"`
	Threshold float64 `default:"3" validate:"gt=0"`
	Workers   int     `validate:"gte=0,lte=64"`
}

func TestStruct_AppliesDefaults(t *testing.T) {
	s := sample{}
	require.NoError(t, Struct(context.Background(), &s))
	assert.Equal(t, "zscore", s.Method)
	assert.Equal(t, 3.0, s.Threshold)
}

func TestStruct_KeepsExplicitValues(t *testing.T) {
	s := sample{Method: "iqr", Threshold: 1.5}
	require.NoError(t, Struct(context.Background(), &s))
	assert.Equal(t, "iqr", s.Method)
	assert.Equal(t, 1.5, s.Threshold)
}

func TestStruct_ReportsFieldErrors(t *testing.T) {
	s := sample{Method: "mad", Workers: 100}
	err := Struct(context.Background(), &s)

	var errs Errors
	require.True(t, errors.As(err, &errs))
	require.Len(t, errs, 2)
	assert.Equal(t, "ERR_ONEOF", errs[0].Code)
	assert.Contains(t, errs[0].Message, "zscore, iqr")
	assert.Equal(t, "ERR_LTE", errs[1].Code)
}
