package http

// APIResponse is the envelope every API route answers with. The HTTP status
// is always 200; Status carries the outcome and Data the payload, the
// degraded run state or the list of errors.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError describes one rejected query parameter.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_ONEOF"`
	Field   string                 `json:"field,omitempty" example:"Strategy"`
	Message string                 `json:"message,omitempty" example:"Strategy must be one of: binary-segmentation joint"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
