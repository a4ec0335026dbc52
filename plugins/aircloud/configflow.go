package aircloud

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Flow result types.
const (
	FlowCreateEntry = "create_entry"
	FlowAbort       = "abort"
	FlowForm        = "form"
)

// Form error codes.
const (
	ErrorConnectionFailed     = "connection_failed"
	ErrorAuthenticationFailed = "authentication_failed"
	ErrorUnknown              = "unknown"
	ErrorRequired             = "required"

	AbortAlreadyConfigured = "already_configured"
)

// EntryData is what a created entry stores.
type EntryData struct {
	Email    string `json:"email"`
	Password string `json:"-"`
}

type FlowEntry struct {
	UniqueID string    `json:"unique_id"`
	Title    string    `json:"title"`
	Data     EntryData `json:"data"`
}

// FlowResult is the outcome of one config flow step.
type FlowResult struct {
	Type   string            `json:"type"`
	Reason string            `json:"reason,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
	Entry  *FlowEntry        `json:"entry,omitempty"`
}

// ConfigFlow validates credentials before an account is added.
type ConfigFlow struct {
	auth   *AuthAPI
	logger logrus.FieldLogger
}

func NewConfigFlow(auth *AuthAPI, logger logrus.FieldLogger) *ConfigFlow {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConfigFlow{auth: auth, logger: logger}
}

// ValidateLogin runs the user step. configured reports whether a unique id
// already has an entry.
func (f *ConfigFlow) ValidateLogin(ctx context.Context, email, password string, configured func(uniqueID string) bool) FlowResult {
	email = strings.TrimSpace(email)
	formErrors := map[string]string{}
	if email == "" {
		formErrors["email"] = ErrorRequired
	}
	if password == "" {
		formErrors["password"] = ErrorRequired
	}
	if len(formErrors) > 0 {
		return FlowResult{Type: FlowForm, Errors: formErrors}
	}

	uniqueID := strings.ToLower(email)
	if configured != nil && configured(uniqueID) {
		return FlowResult{Type: FlowAbort, Reason: AbortAlreadyConfigured}
	}

	if _, err := f.auth.PerformLogin(ctx, email, password); err != nil {
		code := loginErrorCode(err)
		if code == ErrorUnknown {
			f.logger.WithError(err).WithField("account", uniqueID).Error("unexpected error validating aircloud login")
		}
		return FlowResult{Type: FlowForm, Errors: map[string]string{"base": code}}
	}

	return FlowResult{
		Type: FlowCreateEntry,
		Entry: &FlowEntry{
			UniqueID: uniqueID,
			Title:    email,
			Data:     EntryData{Email: email, Password: password},
		},
	}
}

func loginErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrConnectionFailed):
		return ErrorConnectionFailed
	case errors.Is(err, ErrAuthenticationFailed):
		return ErrorAuthenticationFailed
	default:
		return ErrorUnknown
	}
}
