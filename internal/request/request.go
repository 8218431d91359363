package request

// Method is an HTTP request method
type Method int

const (
	MethodGet Method = iota
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodConnect
	MethodOptions
	MethodTrace
	MethodPatch
	MethodUnknown
)

var methodNames = [MethodUnknown]string{
	MethodGet:     "GET",
	MethodHead:    "HEAD",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodConnect: "CONNECT",
	MethodOptions: "OPTIONS",
	MethodTrace:   "TRACE",
	MethodPatch:   "PATCH",
}

// String returns the method token, or "" for MethodUnknown
func (m Method) String() string {
	if m < MethodGet || m >= MethodUnknown {
		return ""
	}
	return methodNames[m]
}

// ParseMethod matches token exactly against the known methods
func ParseMethod(token []byte) Method {
	for i, name := range methodNames {
		if string(token) == name {
			return Method(i)
		}
	}
	return MethodUnknown
}

// Request is one parsed request line. Keep-alive parameters are not part of it:
// they belong to the connection and live in headers.Params.
type Request struct {
	Method Method
	Target string
}

func newRequest() *Request {
	return &Request{
		Method: MethodUnknown,
	}
}
