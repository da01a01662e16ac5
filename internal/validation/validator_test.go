package validation

import "testing"

type sample struct {
	Phone    string `validate:"omitempty,phone"`
	Currency string `validate:"omitempty,currency"`
	ID       string `validate:"omitempty,objectid"`
}

func TestCustomTags(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		in      sample
		wantErr bool
	}{
		{name: "empty passes", in: sample{}},
		{name: "valid phone", in: sample{Phone: "+8801712345678"}},
		{name: "phone too short", in: sample{Phone: "12345"}, wantErr: true},
		{name: "phone with letters", in: sample{Phone: "+880abc"}, wantErr: true},
		{name: "valid currency", in: sample{Currency: "BDT"}},
		{name: "lowercase currency", in: sample{Currency: "bdt"}, wantErr: true},
		{name: "valid objectid", in: sample{ID: "64b0c8f2a1d4e5f6a7b8c9d0"}},
		{name: "short objectid", in: sample{ID: "64b0c8"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.in)
			if tt.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidationErrorsExtraction(t *testing.T) {
	v := New()

	err := v.Struct(sample{Phone: "bad"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	ve := v.ValidationErrors(err)
	if len(ve) != 1 {
		t.Fatalf("expected one field error, got %d", len(ve))
	}
	if ve[0].Tag() != "phone" {
		t.Fatalf("expected phone tag, got %q", ve[0].Tag())
	}
}
