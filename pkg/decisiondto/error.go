package decisiondto

// ErrorBody is the payload of every non-2xx response. Kind is one of the
// domain error kinds; Message is safe to show to a person.
type ErrorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
