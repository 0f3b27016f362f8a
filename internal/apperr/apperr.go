package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeValidation       Code = "VALIDATION"
	CodeField            Code = "FIELD"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeTransport        Code = "TRANSPORT"
	CodeInternal         Code = "INTERNAL"
)

// AppError это ошибка с кодом из таксономии и, для ошибок полей, картой поле -> сообщение
type AppError struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Cause   error             `json:"-"`
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" && len(e.Fields) > 0 {
		msg = summarize(e.Fields)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Validation собирает ошибки клиентской проверки формы. Пустая карта означает отсутствие ошибок.
func Validation(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return &AppError{Code: CodeValidation, Message: "Please fix the errors above", Fields: fields}
}

func Conflict(msg string) error {
	return New(CodeConflict, msg)
}

// Classifier реализуют ошибки других пакетов (например, шлюза), чтобы сообщить свой код
type Classifier interface {
	AppCode() Code
}

// Classify возвращает код ошибки, разворачивая цепочку обёрток
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.AppCode()
	}
	return CodeUnknown
}

// FieldsOf возвращает ошибки полей, если они есть в цепочке
func FieldsOf(err error) map[string]string {
	var ae *AppError
	if errors.As(err, &ae) && len(ae.Fields) > 0 {
		return ae.Fields
	}
	var fe interface{ FieldErrors() map[string]string }
	if errors.As(err, &fe) {
		return fe.FieldErrors()
	}
	return nil
}

func summarize(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return strings.Join(parts, "; ")
}
