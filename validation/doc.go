// Package validation validates config sections, API bodies and node
// settings.
//
// Struct tags go through go-playground/validator:
//
//	type startRunRequest struct {
//	    ResumeNodeID string `json:"resumeNodeId" validate:"omitempty,identifier"`
//	}
//	err := validation.Validate(req)
//
// Ad-hoc checks use the collecting Validator:
//
//	v := validation.New().RequiredUUID("run_id", runID)
//	if err := v.Validate(); err != nil { ... }
//
// Both return an INVALID_INPUT AppError whose "fields" detail lists
// every failing field.
package validation
