package core_test

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/darasa/core"
)

type sample struct {
	Name  string `json:"name" validate:"required,notblank"`
	Date  string `json:"date" validate:"omitempty,date"`
	Phone string `json:"phone" validate:"omitempty,phone"`
}

func TestInitValidators(t *testing.T) {
	translator := core.NewTranslator()
	validate := validator.New()
	core.InitValidators(validate, translator)

	tests := []struct {
		name     string
		in       sample
		wantMsgs map[string]string
	}{
		{name: "valid", in: sample{Name: "Ali", Date: "2024-03-02", Phone: "+20 101 111 1111"}},
		{name: "required", in: sample{}, wantMsgs: map[string]string{"name": "this field is required"}},
		{name: "blank", in: sample{Name: "  "}, wantMsgs: map[string]string{"name": "this field cannot be blank"}},
		{
			name:     "bad date",
			in:       sample{Name: "Ali", Date: "2024-13-01"},
			wantMsgs: map[string]string{"date": "date must be a valid date (YYYY-MM-DD)"},
		},
		{
			name:     "bad phone",
			in:       sample{Name: "Ali", Phone: "not a phone"},
			wantMsgs: map[string]string{"phone": "phone must be a valid phone number"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.in)
			if tt.wantMsgs == nil {
				assert.NoError(t, err)
				return
			}
			verrs, ok := err.(validator.ValidationErrors)
			if !ok {
				t.Fatalf("Struct() error = %v; want validation errors", err)
			}
			got := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				got[fe.Field()] = fe.Translate(translator)
			}
			assert.Equal(t, tt.wantMsgs, got)
		})
	}
}
