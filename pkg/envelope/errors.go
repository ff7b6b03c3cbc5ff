package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sufield/vdp/pkg/apierr"
)

var errInvalidJSON = errors.New("invalid JSON")

// responseStatus is the error block VDP returns for most failures:
//
//	{"responseStatus":{"status":401,"code":"9124","severity":"ERROR",
//	  "message":"Expected input credential was not present","info":""}}
type responseStatus struct {
	Status   flexString `json:"status"`
	Code     flexString `json:"code"`
	Severity string     `json:"severity"`
	Message  string     `json:"message"`
	Info     string     `json:"info"`
}

// errorResponse is the shape used by newer VDP products.
type errorResponse struct {
	Status  flexString `json:"status"`
	Message string     `json:"message"`
	Reason  string     `json:"reason"`
	Details []struct {
		Location string `json:"location"`
		Message  string `json:"message"`
	} `json:"details"`
}

type errorBody struct {
	ResponseStatus *responseStatus `json:"responseStatus"`
	ErrorResponse  *errorResponse  `json:"errorResponse"`
	Message        string          `json:"message"`
}

// parseError builds the CategoryAPI error for a non-2xx response, falling
// back to the status text when the body is not a known error shape.
func parseError(op string, status int, body []byte) *apierr.Error {
	e := &apierr.Error{
		Category: apierr.CategoryAPI,
		Op:       op,
		Status:   status,
		Message:  http.StatusText(status),
		Body:     body,
	}

	var eb errorBody
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &eb) != nil {
		return e
	}

	switch {
	case eb.ResponseStatus != nil && eb.ResponseStatus.Message != "":
		e.Code = string(eb.ResponseStatus.Code)
		e.Message = eb.ResponseStatus.Message
	case eb.ErrorResponse != nil && eb.ErrorResponse.Message != "":
		e.Code = eb.ErrorResponse.Reason
		e.Message = eb.ErrorResponse.Message
		for _, d := range eb.ErrorResponse.Details {
			if d.Message != "" {
				e.Message += "; " + strings.TrimSpace(d.Location+" "+d.Message)
			}
		}
	case eb.Message != "":
		e.Message = eb.Message
	}
	return e
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
