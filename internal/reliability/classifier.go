package reliability

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"

	"github.com/antoniostano/monadchat/internal/kv"
)

// Class is a coarse error category used in logs and metric labels.
type Class string

const (
	ClassNone          Class = ""
	ClassConfiguration Class = "configuration"
	ClassTransport     Class = "transport"
	ClassPersistence   Class = "persistence"
	ClassCanceled      Class = "canceled"
	ClassUnknown       Class = "unknown"
)

// ErrConfiguration marks errors caused by missing or invalid settings.
var ErrConfiguration = errors.New("configuration error")

// httpStatusError is implemented by errors carrying an upstream status code.
type httpStatusError interface {
	HTTPStatus() int
}

// Classify maps err onto the service error taxonomy.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, ErrConfiguration) {
		return ClassConfiguration
	}
	var opErr *kv.OpError
	if errors.As(err, &opErr) {
		return ClassPersistence
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		if IsConfigurationHTTPStatus(statusErr.HTTPStatus()) {
			return ClassConfiguration
		}
		return ClassTransport
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransport
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassTransport
	}
	return ClassUnknown
}

// IsConfigurationHTTPStatus reports statuses that a retry cannot fix
// without changing credentials or the request target.
func IsConfigurationHTTPStatus(code int) bool {
	switch code {
	case 400, 401, 403, 404:
		return true
	default:
		return false
	}
}
