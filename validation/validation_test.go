package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/kbukum/devflow/errors"
)

func TestValidatorRequired(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"build", false},
		{"", true},
		{"   ", true},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			v := New().Required("node_id", tc.value)
			if v.HasErrors() != tc.wantErr {
				t.Errorf("HasErrors() = %v, want %v", v.HasErrors(), tc.wantErr)
			}
		})
	}
}

func TestValidatorRequiredUUID(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid", uuid.New().String(), false},
		{"empty", "", true},
		{"malformed", "not-a-uuid", true},
		{"nil uuid", uuid.Nil.String(), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := New().RequiredUUID("run_id", tc.value)
			if v.HasErrors() != tc.wantErr {
				t.Errorf("HasErrors() = %v, want %v (%v)", v.HasErrors(), tc.wantErr, v.Errors())
			}
		})
	}
}

func TestValidatorIdentifier(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"", false},
		{"build-api", false},
		{"step_1.lint", false},
		{"node:2", false},
		{"-leading", true},
		{"has space", true},
		{"slash/node", true},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			v := New().Identifier("node_id", tc.value)
			if v.HasErrors() != tc.wantErr {
				t.Errorf("HasErrors() = %v, want %v", v.HasErrors(), tc.wantErr)
			}
		})
	}
}

func TestValidatorCollectsEveryFailure(t *testing.T) {
	v := New().
		Required("flow_id", "").
		RequiredUUID("run_id", "ghost").
		Identifier("node_id", "bad id")

	if len(v.Errors()) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(v.Errors()), v.Errors())
	}

	appErr := v.Validate()
	if appErr == nil {
		t.Fatal("expected AppError")
	}
	if appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", appErr.Code)
	}
	if !strings.Contains(appErr.Message, "flow_id: is required") || !strings.Contains(appErr.Message, "run_id: must be a valid UUID") {
		t.Errorf("message missing field errors: %q", appErr.Message)
	}
	if fields, ok := appErr.Details["fields"].([]FieldError); !ok || len(fields) != 3 {
		t.Errorf("expected 3 field errors in details, got %v", appErr.Details["fields"])
	}
}

func TestValidatorNoErrors(t *testing.T) {
	v := New().Required("a", "x").RequiredUUID("run_id", uuid.New().String()).Identifier("node_id", "")
	if v.Validate() != nil {
		t.Errorf("expected nil, got %v", v.Errors())
	}
}

type policyInput struct {
	Strategy    string `json:"strategy" validate:"required,oneof=none auto exponential manual"`
	MaxAttempts int    `json:"maxAttempts" validate:"gte=0"`
	BackoffMs   int    `mapstructure:"backoff_ms" validate:"gte=0"`
	NodeID      string `json:"nodeId" validate:"omitempty,identifier"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name       string
		input      policyInput
		wantFields []string
	}{
		{"valid", policyInput{Strategy: "auto", MaxAttempts: 2, BackoffMs: 1000}, nil},
		{"missing strategy", policyInput{}, []string{"strategy"}},
		{"bad strategy", policyInput{Strategy: "linear"}, []string{"strategy"}},
		{"negatives", policyInput{Strategy: "none", MaxAttempts: -1, BackoffMs: -5}, []string{"max_attempts", "backoff_ms"}},
		{"bad identifier", policyInput{Strategy: "none", NodeID: "a b"}, []string{"node_id"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.input)
			if len(tc.wantFields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			appErr, ok := errors.AsAppError(err)
			if !ok {
				t.Fatalf("expected AppError, got %v", err)
			}
			fields := appErr.Details["fields"].([]FieldError)
			if len(fields) != len(tc.wantFields) {
				t.Fatalf("expected %d field errors, got %v", len(tc.wantFields), fields)
			}
			for i, want := range tc.wantFields {
				if fields[i].Field != want {
					t.Errorf("field[%d] = %q, want %q", i, fields[i].Field, want)
				}
			}
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"maxAttempts": "max_attempts",
		"NodeID":      "node_i_d",
		"strategy":    "strategy",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
