package retry

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
)

// Error codes that mean the resource or permission is already in place
var alreadyExistsCodes = map[string]bool{
	"EntityAlreadyExists":            true,
	"RouteAlreadyExists":             true,
	"InvalidPermission.Duplicate":    true,
	"BucketAlreadyOwnedByYou":        true,
	"ResourceAlreadyExistsException": true,
	"QueueAlreadyExists":             true,
	"Resource.AlreadyAssociated":     true,
}

// Error codes that mean the resource does not exist (yet)
var notFoundCodes = map[string]bool{
	"NoSuchEntity":              true,
	"NoSuchKey":                 true,
	"NoSuchBucket":              true,
	"NotFound":                  true,
	"ResourceNotFoundException": true,
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// StatusCode returns the HTTP status of an API error, or 0 when unknown
func StatusCode(err error) int {
	var sc httpStatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

// ErrorCode returns the API error code, or "" when err is not an API error
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsServerError reports a 5xx response or a server-fault API error
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	if StatusCode(err) >= http.StatusInternalServerError {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultServer
}

// IsAlreadyExists reports a benign duplicate-create conflict
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	return alreadyExistsCodes[ErrorCode(err)] || StatusCode(err) == http.StatusConflict
}

// IsNotFound reports a missing-resource response. EC2 uses dotted codes
// such as InvalidVpcID.NotFound.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	code := ErrorCode(err)
	if notFoundCodes[code] || strings.HasSuffix(code, ".NotFound") {
		return true
	}
	return StatusCode(err) == http.StatusNotFound
}

// IsAccessDenied reports a permission failure
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	switch ErrorCode(err) {
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation":
		return true
	}
	return StatusCode(err) == http.StatusForbidden
}
