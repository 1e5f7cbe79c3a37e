package broker

import (
	"errors"

	"github.com/aws/smithy-go"
)

// ErrorCode returns the API error code carried by err (for example
// "Throttling" or "NotFound"), or "" when err did not come from the service.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
