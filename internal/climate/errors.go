package climate

import (
	"errors"
	"fmt"
)

var (
	ErrEntityNotFound   = errors.New("climate entity not found")
	ErrDuplicateEntity  = errors.New("climate entity already registered")
	ErrMissingArgument  = errors.New("missing argument")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnsupportedValue = errors.New("unsupported value")
)

// ServiceError is returned by entity operations when the backing device
// rejected or failed the call.
type ServiceError struct {
	EntityID  string
	Operation string
	Err       error
}

func (e *ServiceError) Error() string {
	if e.EntityID == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Operation, e.EntityID, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps err unless it already is a ServiceError.
func NewServiceError(entityID, operation string, err error) error {
	if err == nil {
		return nil
	}
	var existing *ServiceError
	if errors.As(err, &existing) {
		return err
	}
	return &ServiceError{EntityID: entityID, Operation: operation, Err: err}
}
