package heat

import (
	"fmt"
	"regexp"
)

// OSHeatError is an unclassified error response from the Heat API.
type OSHeatError struct {
	Status int
	Body   string
}

func (e *OSHeatError) Error() string {
	return fmt.Sprintf("heat: HTTP %d: %s", e.Status, e.Body)
}

// AVMNotFoundError means the stack backing the VM does not exist.
type AVMNotFoundError struct {
	StackName string
}

func (e *AVMNotFoundError) Error() string {
	return fmt.Sprintf("stack %s not found", e.StackName)
}

// AVMCreationError means Heat rejected the stack create request.
type AVMCreationError struct {
	Reason string
}

func (e *AVMCreationError) Error() string {
	return "stack creation failed: " + e.Reason
}

// AVMImageNotFoundError means the boot image named in the stack parameters
// does not exist in Glance.
type AVMImageNotFoundError struct {
	Image string
}

func (e *AVMImageNotFoundError) Error() string {
	return fmt.Sprintf("image %s could not be found", e.Image)
}

// Heat reports a missing image only through the error message text; the
// error type field is not specific enough. This is the single place where
// text matching happens.
var imageNotFoundRE = regexp.MustCompile(`The Image (.*) could not be found`)

// classifyCreateError translates a stack create failure body into a typed
// error.
func classifyCreateError(status int, errMessage string) error {
	if m := imageNotFoundRE.FindStringSubmatch(errMessage); m != nil {
		return &AVMImageNotFoundError{Image: m[1]}
	}
	if errMessage == "" {
		errMessage = fmt.Sprintf("HTTP %d", status)
	}
	return &AVMCreationError{Reason: errMessage}
}
