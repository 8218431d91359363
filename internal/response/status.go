package response

// StatusCode represents HTTP status codes
type StatusCode int

const (
	StatusOK             StatusCode = 200
	StatusBadRequest     StatusCode = 400
	StatusNotFound       StatusCode = 404
	StatusNotImplemented StatusCode = 501
)

// InternalErrorLiteral is sent as-is when a response cannot be composed.
// It bypasses the Writer entirely.
const InternalErrorLiteral = "HTTP/1.1 500 Internal Error\r\n\r\n"

// statusText maps status codes to reason phrases
var statusText = map[StatusCode]string{
	StatusOK:             "OK",
	StatusBadRequest:     "Bad Request",
	StatusNotFound:       "Not Found",
	StatusNotImplemented: "Not Implemented",
}

// StatusText returns the reason phrase for a status code, or "" if the code
// is not one the engine sends.
func StatusText(code StatusCode) string {
	return statusText[code]
}
