package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"cinna/internal/apperr"
)

// APIError это любой ответ сервера со статусом вне 2xx. Тело сохраняется как есть.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Body    []byte
	Fields  map[string]string
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && len(e.Fields) > 0 {
		msg = joinFields(e.Fields)
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

// FieldErrors возвращает ошибки полей формы (ключ поля -> первое сообщение)
func (e *APIError) FieldErrors() map[string]string {
	return e.Fields
}

func (e *APIError) AppCode() apperr.Code {
	switch {
	case e.Status == http.StatusUnauthorized:
		return apperr.CodeUnauthenticated
	case e.Status == http.StatusForbidden:
		return apperr.CodePermissionDenied
	case e.Status == http.StatusNotFound:
		return apperr.CodeNotFound
	case e.Status >= 500:
		return apperr.CodeInternal
	case len(e.Fields) > 0:
		return apperr.CodeField
	case e.Status >= 400:
		return apperr.CodeConflict
	}
	return apperr.CodeUnknown
}

// UserMessage это текст для общего баннера ошибки
func (e *APIError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Fields) > 0 {
		return "Please fix the errors above"
	}
	if e.Status >= 500 {
		return "Server error, please try again later"
	}
	return http.StatusText(e.Status)
}

// TransportError означает, что ответ не был получен (сеть, таймаут, DNS)
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: network error: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) AppCode() apperr.Code { return apperr.CodeTransport }

func (e *TransportError) UserMessage() string {
	return "Network error, please check your connection and try again"
}

// keys, которые несут общее сообщение, а не ошибку конкретного поля
var messageKeys = []string{"error", "detail", "message", "non_field_errors"}

func newAPIError(method, path string, status int, body []byte) *APIError {
	e := &APIError{Method: method, Path: path, Status: status, Body: body}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return e
	}
	for _, key := range messageKeys {
		if raw, ok := payload[key]; ok {
			if msg := firstMessage(raw); msg != "" && e.Message == "" {
				e.Message = msg
			}
			delete(payload, key)
		}
	}
	for key, raw := range payload {
		if msg := firstMessage(raw); msg != "" {
			if e.Fields == nil {
				e.Fields = map[string]string{}
			}
			e.Fields[key] = msg
		}
	}
	return e
}

// firstMessage достаёт текст из "msg", ["msg", ...] или {"nested": ["msg"]}
func firstMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if msg := firstMessage(item); msg != "" {
				return msg
			}
		}
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if msg := firstMessage(obj[k]); msg != "" {
				return msg
			}
		}
	}
	return ""
}

func joinFields(fields map[string]string) string {
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
