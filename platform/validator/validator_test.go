package validator

import (
	"strings"
	"testing"

	"leadengine/platform/apperr"
)

type contact struct {
	ChatID string `validate:"required,chatid"`
	Phone  string `validate:"omitempty,phone"`
	Text   string `validate:"max=10"`
}

func TestStruct(t *testing.T) {
	v := New()
	tests := []struct {
		name   string
		input  contact
		fields []string
	}{
		{"valid", contact{ChatID: "12345@c.us", Phone: "+49 30 123456", Text: "hi"}, nil},
		{"missing chat", contact{}, []string{"ChatID"}},
		{"chat with space", contact{ChatID: "12 34"}, []string{"ChatID"}},
		{"chat too long", contact{ChatID: strings.Repeat("x", 129)}, []string{"ChatID"}},
		{"bad phone", contact{ChatID: "1", Phone: "not a number"}, []string{"Phone"}},
		{"several", contact{ChatID: "a b", Text: strings.Repeat("y", 11)}, []string{"ChatID", "Text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.input)
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var details map[string]string
			if e, ok := err.(*apperr.Error); ok {
				details, _ = e.Details.(map[string]string)
			}
			if len(details) != len(tt.fields) {
				t.Fatalf("expected %d failing fields, got %v", len(tt.fields), details)
			}
			for _, f := range tt.fields {
				if _, ok := details[f]; !ok {
					t.Fatalf("expected %s to fail, got %v", f, details)
				}
			}
		})
	}
}

func TestVar(t *testing.T) {
	v := New()
	if err := v.Var("abc@c.us", "chatid"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := v.Var("", "chatid"); err == nil {
		t.Fatal("expected empty chat id to fail")
	}
}
