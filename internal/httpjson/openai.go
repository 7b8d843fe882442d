package httpjson

import (
	"errors"
	"net/http"
	"strconv"

	openai "github.com/sashabaranov/go-openai"
)

// FromOpenAI converts go-openai error types into a StatusError so that
// Classify treats them like any other HTTP failure. Transport errors are
// returned unchanged.
func FromOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{
			Code:   apiErr.HTTPStatusCode,
			Status: statusText(apiErr.HTTPStatusCode),
			Body:   apiErr.Message,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &StatusError{
			Code:   reqErr.HTTPStatusCode,
			Status: statusText(reqErr.HTTPStatusCode),
			Body:   body,
		}
	}
	return err
}

func statusText(code int) string {
	return strconv.Itoa(code) + " " + http.StatusText(code)
}
