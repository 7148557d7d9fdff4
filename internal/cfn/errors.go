package cfn

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/codex-k8s/stackctl/internal/stack"
)

// Error codes CloudFormation uses to refuse a request. Anything else (throttling, access
// denied, expired credentials, network errors) is passed through untouched.
const (
	codeValidation             = "ValidationError"
	codeInsufficientCapability = "InsufficientCapabilitiesException"
	codeAlreadyExists          = "AlreadyExistsException"
	codeTokenAlreadyExists     = "TokenAlreadyExistsException"
	codeLimitExceeded          = "LimitExceededException"
)

var rejectionCodes = map[string]struct{}{
	codeValidation:             {},
	codeInsufficientCapability: {},
	codeAlreadyExists:          {},
	codeTokenAlreadyExists:     {},
	codeLimitExceeded:          {},
}

// translate converts CloudFormation rejections into *stack.ValidationError.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if _, ok := rejectionCodes[apiErr.ErrorCode()]; !ok {
		return err
	}
	return &stack.ValidationError{Code: apiErr.ErrorCode(), Message: apiErr.ErrorMessage()}
}

// isStackMissing reports whether err is the ValidationError returned for an unknown stack name.
func isStackMissing(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == codeValidation && strings.Contains(apiErr.ErrorMessage(), "does not exist")
}
