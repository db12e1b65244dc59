package descriptor

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var semverRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// Result is the outcome of contract validation. Errors refuse registration;
// warnings are advisory and registration proceeds.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks a registration candidate against the plugin contract. It is
// a pure function: no I/O, no mutation of the candidate. Accepted candidate
// shapes are *Descriptor and map[string]interface{} (a decoded descriptor
// document); anything else, including nil, is invalid.
func Validate(candidate interface{}) Result {
	switch c := candidate.(type) {
	case nil:
		return Result{Valid: false, Errors: []string{"candidate is not a valid object"}}
	case *Descriptor:
		if c == nil {
			return Result{Valid: false, Errors: []string{"candidate is not a valid object"}}
		}
		return validateDescriptor(c)
	case Descriptor:
		return validateDescriptor(&c)
	case map[string]interface{}:
		d, err := FromDocument(c)
		if err != nil {
			return Result{Valid: false, Errors: []string{err.Error()}}
		}
		return validateDescriptor(d)
	default:
		return Result{Valid: false, Errors: []string{"candidate is not a valid object"}}
	}
}

// FromDocument decodes a descriptor document (typically the JSON body of a
// remote-exposed module) into a Descriptor.
func FromDocument(doc map[string]interface{}) (*Descriptor, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor document: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid descriptor document: %w", err)
	}

	// json.Unmarshal drops an explicit null render; keep presence information
	// so validation can distinguish "missing" from "declared".
	if raw, ok := doc["render"]; ok && raw != nil && d.Render == nil {
		d.Render = raw
	}

	return &d, nil
}

func validateDescriptor(d *Descriptor) Result {
	result := Result{Valid: true}

	if d.ID == "" {
		result.Errors = append(result.Errors, "id is required")
	}
	if d.DisplayName == "" {
		result.Errors = append(result.Errors, "displayName is required")
	}
	if d.Render == nil {
		result.Errors = append(result.Errors, "render entry point is required")
	}

	for i, action := range d.Actions {
		if action.ID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("actions[%d]: id is required", i))
		}
		if action.Label == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("actions[%d]: label is required", i))
		}
	}

	if d.Version == "" {
		result.Warnings = append(result.Warnings, "version is recommended")
	} else if !semverRegex.MatchString(d.Version) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("version %q is not valid semver", d.Version))
	}

	if d.Lifecycle == nil {
		result.Warnings = append(result.Warnings, "lifecycle hooks are recommended")
	}

	result.Valid = len(result.Errors) == 0
	return result
}
