package api

import "fmt"

// Error is the body returned when a request is rejected before it reaches
// the pipeline.
type Error struct {
	Reason  string        `json:"reason"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details"`
}

type ErrorDetail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Invalid builds the error for a request whose body failed validation.
func Invalid(details []ErrorDetail) error {
	return Error{
		Reason:  "invalid_request",
		Message: "request was invalid",
		Details: details,
	}
}
