package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/settlement-api/pkg/errors"
)

type bookingInput struct {
	SlotType string `json:"slot_type" validate:"required,oneof=online clinic"`
	Fee      int64  `json:"consultation_fee" validate:"gt=0"`
	Reason   string `json:"reason" validate:"max=5"`
}

func TestValidate(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		input   bookingInput
		wantErr string
	}{
		{"valid", bookingInput{SlotType: "online", Fee: 100}, ""},
		{"missing slot type", bookingInput{Fee: 100}, "slot_type is required"},
		{"bad slot type", bookingInput{SlotType: "home", Fee: 100}, "slot_type must be one of [online clinic]"},
		{"zero fee", bookingInput{SlotType: "clinic"}, "consultation_fee must be greater than 0"},
		{"long reason", bookingInput{SlotType: "clinic", Fee: 1, Reason: "toolong"}, "reason must be at most 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateField(t *testing.T) {
	v := New()

	assert.NoError(t, v.ValidateField("date", "2024-03-01", "required", "datetime=2006-01-02"))

	err := v.ValidateField("date", "01/03/2024", "required", "datetime=2006-01-02")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
