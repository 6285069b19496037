package errors

import (
	"errors"
	"fmt"
)

// Class groups error codes by how a caller must react to them
type Class uint

const (
	// ClassUnknown represents an unclassified error
	ClassUnknown Class = iota
	// ClassInitialization errors are fatal to every call until resolved
	ClassInitialization
	// ClassPermission errors mean the license does not cover the feature
	ClassPermission
	// ClassInvalidInput errors are reported per call
	ClassInvalidInput
	// ClassComputation errors mean the numeric result is BadValue
	ClassComputation
	// ClassInternal represents an internal error
	ClassInternal
)

// String returns the class name
func (c Class) String() string {
	switch c {
	case ClassInitialization:
		return "initialization"
	case ClassPermission:
		return "permission"
	case ClassInvalidInput:
		return "invalid_input"
	case ClassComputation:
		return "computation"
	case ClassInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Code identifies a specific engine failure
type Code string

const (
	CodeNone Code = ""

	// Initialization
	CodeAuthorization Code = "AUTHORIZATION"
	CodeExpiredKey    Code = "EXPIRED_KEY"
	CodeUninitialized Code = "UNINITIALIZED"

	// Permission
	CodePermissionLattice   Code = "PERMISSION_LATTICE"
	CodePermissionScenarios Code = "PERMISSION_SCENARIOS"
	CodePermissionAfterTax  Code = "PERMISSION_AFTER_TAX"

	// Computation
	CodeTreeFit         Code = "TREE_FIT"
	CodeComputeOAS      Code = "COMPUTE_OAS"
	CodeComputePrice    Code = "COMPUTE_PRICE"
	CodeComputeYield    Code = "COMPUTE_YIELD"
	CodeComputeKeyRates Code = "COMPUTE_KEYRATES"
	CodeInternal        Code = "INTERNAL"

	// Input
	CodeInvalidDate          Code = "INVALID_DATE"
	CodeInvalidCoupon        Code = "INVALID_COUPON"
	CodeInvalidCurve         Code = "INVALID_CURVE"
	CodeInvalidLattice       Code = "INVALID_LATTICE"
	CodeInvalidOAS           Code = "INVALID_OAS"
	CodeInvalidPrice         Code = "INVALID_PRICE"
	CodeInvalidYield         Code = "INVALID_YIELD"
	CodeMatured              Code = "MATURED"
	CodeInvalidDurationShift Code = "INVALID_DURATION_SHIFT"
	CodeInvalidFaceAmount    Code = "INVALID_FACE_AMOUNT"
	CodeInvalidFirstCoupon   Code = "INVALID_FIRST_COUPON"
	CodeInvalidLastCoupon    Code = "INVALID_LAST_COUPON"
	CodeInvalidOptionDate    Code = "INVALID_OPTION_DATE"
	CodeInvalidOptionPrice   Code = "INVALID_OPTION_PRICE"
	CodeInvalidSinkDate      Code = "INVALID_SINK_DATE"
	CodeInvalidSinkPrice     Code = "INVALID_SINK_PRICE"
	CodeInvalidPVDate        Code = "INVALID_PV_DATE"
	CodeInvalidQuoteType     Code = "INVALID_QUOTE_TYPE"
	CodeInvalidScenario      Code = "INVALID_SCENARIO"
	CodeInvalidName          Code = "INVALID_NAME"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeNotFound             Code = "NOT_FOUND"
)

// AppError represents an engine error
type AppError struct {
	Class   Class
	Code    Code
	Message string
	Err     error
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(class Class, code Code, message string) error {
	return &AppError{Class: class, Code: code, Message: message}
}

// InvalidInput creates an invalid input error
func InvalidInput(code Code, message string) error {
	return newError(ClassInvalidInput, code, message)
}

// InvalidInputf creates an invalid input error with a formatted message
func InvalidInputf(code Code, format string, args ...interface{}) error {
	return newError(ClassInvalidInput, code, fmt.Sprintf(format, args...))
}

// Computation creates a computation failure error
func Computation(code Code, message string) error {
	return newError(ClassComputation, code, message)
}

// Computationf creates a computation failure error with a formatted message
func Computationf(code Code, format string, args ...interface{}) error {
	return newError(ClassComputation, code, fmt.Sprintf(format, args...))
}

// Initialization creates an initialization error
func Initialization(code Code, message string) error {
	return newError(ClassInitialization, code, message)
}

// Permission creates a permission error
func Permission(code Code, message string) error {
	return newError(ClassPermission, code, message)
}

// Internal creates an internal error
func Internal(message string) error {
	return newError(ClassInternal, CodeInternal, message)
}

// NotFound creates a not found error
func NotFound(message string) error {
	return newError(ClassInvalidInput, CodeNotFound, message)
}

// Wrap wraps an error with a message, keeping its class and code
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Class:   appErr.Class,
			Code:    appErr.Code,
			Message: message,
			Err:     err,
		}
	}
	return &AppError{
		Class:   ClassInternal,
		Code:    CodeInternal,
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode wraps err under a new class and code
func WithCode(err error, class Class, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Class: class, Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost AppError in err's chain
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeNone
}

// ClassOf returns the class of the outermost AppError in err's chain
func ClassOf(err error) Class {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Class
	}
	return ClassUnknown
}

// HasCode reports whether err carries the given code
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// HasClass reports whether err carries the given class
func HasClass(err error, class Class) bool {
	return err != nil && ClassOf(err) == class
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
