// Package apperr defines the closed set of failure kinds the relay reports
// and the numeric codes and HTTP statuses attached to them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindGeneric Kind = iota
	KindValue
	KindValidation

	KindUnauthorized
	KindInvalidState
	KindInvalidIdToken
	KindInvalidRefreshToken

	KindBusinessLogic
	KindResourceNotFound
	KindResourceAlreadyExists

	KindServer
	KindTimeout
	KindBackendStore
	KindDirectoryProvider
)

type kindInfo struct {
	name   string
	code   int
	parent Kind
	status int
}

// kinds is indexed by Kind. A kind that is its own parent is a root.
var kinds = [...]kindInfo{
	KindGeneric:    {"Generic", 3000, KindGeneric, http.StatusInternalServerError},
	KindValue:      {"Value", 3001, KindGeneric, http.StatusBadRequest},
	KindValidation: {"Validation", 3002, KindGeneric, http.StatusBadRequest},

	KindUnauthorized:        {"Unauthorized", 4001, KindUnauthorized, http.StatusUnauthorized},
	KindInvalidState:        {"InvalidState", 4002, KindUnauthorized, http.StatusUnauthorized},
	KindInvalidIdToken:      {"InvalidIdToken", 4003, KindUnauthorized, http.StatusUnauthorized},
	KindInvalidRefreshToken: {"InvalidRefreshToken", 4004, KindUnauthorized, http.StatusUnauthorized},

	KindBusinessLogic:         {"BusinessLogic", 4100, KindBusinessLogic, http.StatusConflict},
	KindResourceNotFound:      {"ResourceNotFound", 4101, KindBusinessLogic, http.StatusNotFound},
	KindResourceAlreadyExists: {"ResourceAlreadyExists", 4102, KindBusinessLogic, http.StatusUnprocessableEntity},

	KindServer:            {"Server", 5000, KindServer, http.StatusInternalServerError},
	KindTimeout:           {"Timeout", 5001, KindServer, http.StatusInternalServerError},
	KindBackendStore:      {"BackendStore", 5003, KindServer, http.StatusInternalServerError},
	KindDirectoryProvider: {"DirectoryProvider", 5004, KindServer, http.StatusInternalServerError},
}

func (k Kind) valid() bool {
	return k >= 0 && int(k) < len(kinds)
}

func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k].name
}

// Code is the numeric error_code reported to clients
func (k Kind) Code() int {
	if !k.valid() {
		return kinds[KindGeneric].code
	}
	return kinds[k].code
}

// Status is the HTTP status used when the kind is rendered as JSON
func (k Kind) Status() int {
	if !k.valid() {
		return http.StatusInternalServerError
	}
	return kinds[k].status
}

// Parent returns the category a kind belongs to
func (k Kind) Parent() Kind {
	if !k.valid() {
		return KindGeneric
	}
	return kinds[k].parent
}

// Is reports whether k equals category or belongs to it
func (k Kind) Is(category Kind) bool {
	if k == category {
		return true
	}
	return k.valid() && k.Parent() == category
}

// Error is a failure classified with a Kind. Err keeps the underlying cause
// for errors.Is/As and logs; Message is what clients see.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. The cause stays reachable through errors.Is.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindGeneric for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// IsKind reports whether err is classified as kind or one of its children
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return kind == KindGeneric && err != nil
	}
	return e.Kind.Is(kind)
}

// PublicMessage is the client-facing text for err. Unclassified errors never
// leak their text.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.String()
	}
	return "internal server error"
}
