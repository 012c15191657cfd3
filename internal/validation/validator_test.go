// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	t.Parallel()

	v1 := GetValidator()
	v2 := GetValidator()
	if v1 == nil {
		t.Fatal("GetValidator() returned nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same instance")
	}
}

type eventsRequest struct {
	Service      string `validate:"required,max=64,identifier"`
	JobID        string `validate:"required,max=128,identifier"`
	LastTokenSeq int64  `validate:"gte=0"`
}

func TestValidateStruct_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input eventsRequest
	}{
		{"plain", eventsRequest{Service: "llm", JobID: "job-1"}},
		{"dotted and colon", eventsRequest{Service: "vision", JobID: "a.b:c_d-9", LastTokenSeq: 42}},
		{"max length", eventsRequest{Service: "llm", JobID: strings.Repeat("x", 128)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := ValidateStruct(&tt.input); err != nil {
				t.Errorf("ValidateStruct() = %v, want nil", err)
			}
		})
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   eventsRequest
		wantTag string
		wantMsg string
	}{
		{"missing job", eventsRequest{Service: "llm"}, "required", "is required"},
		{"slash in job", eventsRequest{Service: "llm", JobID: "a/b"}, "identifier", "may only contain"},
		{"leading dash", eventsRequest{Service: "llm", JobID: "-a"}, "identifier", "may only contain"},
		{"too long", eventsRequest{Service: "llm", JobID: strings.Repeat("x", 129)}, "max", "at most 128 characters"},
		{"negative seq", eventsRequest{Service: "llm", JobID: "j", LastTokenSeq: -1}, "gte", "greater than or equal to 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(&tt.input)
			if err == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d errors, want 1: %v", len(errs), err)
			}
			if errs[0].Tag != tt.wantTag {
				t.Errorf("Tag = %q, want %q", errs[0].Tag, tt.wantTag)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Error() = %q, want substring %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateVar(t *testing.T) {
	t.Parallel()

	if err := ValidateVar("backend", "redis", "oneof=redis badger"); err != nil {
		t.Errorf("ValidateVar(redis) = %v", err)
	}
	err := ValidateVar("backend", "mysql", "oneof=redis badger")
	if err == nil {
		t.Fatal("ValidateVar(mysql) = nil, want error")
	}
	if got, want := err.Error(), "backend must be one of: redis badger"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestToAPIError_SingleError(t *testing.T) {
	t.Parallel()

	err := ValidateStruct(&eventsRequest{Service: "llm"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q", apiErr.Code)
	}
	if apiErr.Details["tag"] != "required" {
		t.Errorf("Details[tag] = %v", apiErr.Details["tag"])
	}
}

func TestToAPIError_MultipleErrors(t *testing.T) {
	t.Parallel()

	err := ValidateStruct(&eventsRequest{LastTokenSeq: -5})
	if err == nil {
		t.Fatal("expected validation error")
	}
	apiErr := err.ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]any)
	if !ok {
		t.Fatalf("Details[fields] has type %T", apiErr.Details["fields"])
	}
	if len(fields) != 3 {
		t.Errorf("got %d field errors, want 3", len(fields))
	}
}

func TestToAPIError_Empty(t *testing.T) {
	t.Parallel()

	apiErr := (&RequestValidationError{}).ToAPIError()
	if apiErr.Message != "Validation failed" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}
