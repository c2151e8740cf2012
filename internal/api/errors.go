package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind классифицирует ошибку, дошедшую до границы API-клиента.
type Kind string

const (
	KindValidation Kind = "validation"
	KindCSRF       Kind = "csrf"
	KindAuth       Kind = "auth"
	KindBusiness   Kind = "business"
	KindPayment    Kind = "payment"
	KindNetwork    Kind = "network"
	KindServer     Kind = "server"
	KindTimeout    Kind = "timeout"
)

const networkMessage = "Network error, please try again."

// maxErrorBody ограничивает объём тела ответа, читаемого для сообщения об ошибке.
const maxErrorBody = 64 << 10

// Error описывает нормализованную ошибку вида {kind, message}, которую получает оркестратор.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf создаёт ошибку указанного вида с отформатированным сообщением.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Network оборачивает транспортную ошибку.
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: networkMessage, Err: err}
}

// KindOf возвращает вид ошибки. Для ошибок вне таксономии возвращается KindNetwork.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindNetwork
}

// Message возвращает сообщение, пригодное для показа пользователю.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return networkMessage
}

// FromResponse читает тело неуспешного ответа и превращает его в *Error.
// Сообщение сервера берётся дословно; если тело пустое или не читается,
// используется "<fallback> (<status>)". Тело ответа закрывается.
func FromResponse(resp *http.Response, fallback string) *Error {
	defer resp.Body.Close()

	e := &Error{
		Kind:   classify(resp.StatusCode),
		Status: resp.StatusCode,
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		e.Message = messageFromBody(raw, resp.StatusCode < http.StatusInternalServerError)
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("%s (%d)", fallback, resp.StatusCode)
	}
	if isCSRFStatus(resp.StatusCode) && mentionsCSRF(raw) {
		e.Kind = KindCSRF
	}

	return e
}

func classify(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status >= 500:
		return KindServer
	default:
		return KindBusiness
	}
}

// messageFromBody извлекает сообщение из тела ответа. Неструктурированный
// текст используется только при allowPlain.
func messageFromBody(raw []byte, allowPlain bool) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		var plain string
		if json.Unmarshal(raw, &plain) == nil {
			return plain
		}
		if allowPlain {
			return text
		}
		return ""
	}

	for _, key := range []string{"message", "error", "title", "detail"} {
		if v, ok := body[key].(string); ok && v != "" {
			return v
		}
	}

	if allowPlain {
		return text
	}
	return ""
}

func isCSRFStatus(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusForbidden
}

func mentionsCSRF(raw []byte) bool {
	lower := strings.ToLower(string(raw))
	for _, marker := range []string{"csrf", "xsrf", "antiforgery", "anti-forgery"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
