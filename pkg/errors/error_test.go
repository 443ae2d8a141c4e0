package errors

import (
	stderrors "errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(SessionNotFound)
	if err.Code != SessionNotFound {
		t.Errorf("Code = %d, want SessionNotFound", err.Code)
	}
	if err.Error() != "Session not found" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Stack == "" {
		t.Error("stack not captured")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ChallengeNotFound, "challenge not found: %s", "web-basic-xss")
	if err.Error() != "challenge not found: web-basic-xss" {
		t.Errorf("Error() = %q", err.Error())
	}
	if GetCode(err) != ChallengeNotFound {
		t.Errorf("GetCode = %d", GetCode(err))
	}
}

func TestWrap(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrapf(base, RuntimeError, "create container failed")

	if GetCode(err) != RuntimeError {
		t.Errorf("GetCode = %d, want RuntimeError", GetCode(err))
	}
	if !stderrors.Is(err, base) {
		t.Error("wrapped error lost the cause chain")
	}
	if Wrap(nil, RuntimeError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapUpdatesCodeInPlace(t *testing.T) {
	inner := Newf(SchemaError, "bad json")
	wrapped := Wrap(inner, ConfigInvalid)
	if wrapped.Code != ConfigInvalid {
		t.Errorf("Code = %d, want ConfigInvalid", wrapped.Code)
	}
}

func TestWithDetail(t *testing.T) {
	err := New(SessionLimit).WithDetail("user_id", "alice").WithDetail("limit", 5)
	if err.Details["user_id"] != "alice" || err.Details["limit"] != 5 {
		t.Errorf("Details = %+v", err.Details)
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(nil) != Success {
		t.Error("GetCode(nil) != Success")
	}
	if GetCode(stderrors.New("plain")) != InternalError {
		t.Error("foreign errors should map to InternalError")
	}
}

func TestIs(t *testing.T) {
	err := Newf(SessionExpired, "session expired: abc")
	if !Is(err, SessionExpired) {
		t.Error("Is did not match the code")
	}
	if Is(err, SessionNotFound) {
		t.Error("Is matched the wrong code")
	}
	if Is(nil, SessionExpired) {
		t.Error("Is(nil) should be false")
	}
}

func TestIsSecurityViolation(t *testing.T) {
	for _, code := range []ErrorCode{SecurityViolation, CapabilityNotAllowed, ResourceCeilingExceed, MountNotAllowed} {
		if !IsSecurityViolation(New(code)) {
			t.Errorf("code %d not recognized as a security violation", code)
		}
	}
	if IsSecurityViolation(New(SessionLimit)) {
		t.Error("session error flagged as security violation")
	}
	if IsSecurityViolation(nil) {
		t.Error("nil flagged as security violation")
	}
}

func TestMessageUnknownCode(t *testing.T) {
	if ErrorCode(99999).Message() != "Unknown error" {
		t.Errorf("unknown code message = %q", ErrorCode(99999).Message())
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{Success, 200},
		{ChallengeNotFound, 404},
		{SessionNotFound, 404},
		{SessionExpired, 410},
		{CapabilityNotAllowed, 403},
		{ResourceCeilingExceed, 403},
		{SessionLimit, 429},
		{InvalidParams, 400},
		{SchemaError, 400},
		{FlagInvalid, 422},
		{HealthCheckTimeout, 504},
		{RuntimeError, 503},
		{InternalError, 500},
		{StartupError, 500},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%d) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
