package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"task-api/domain"
)

const maxBodySize = 64 * 1024 // 64 KiB

var nullJSON = []byte("null")

// requestError carries every 422 complaint found in one request.
type requestError struct {
	details []validationDetail
}

func (e *requestError) Error() string {
	if len(e.details) == 0 {
		return "invalid request"
	}
	return "invalid request: " + e.details[0].Msg
}

func (e *requestError) add(d validationDetail) {
	e.details = append(e.details, d)
}

func (e *requestError) addField(loc string, fe *domain.FieldError) {
	if fe == nil {
		return
	}
	e.add(validationDetail{Loc: []string{loc, fe.Field}, Msg: fe.Message, Type: fe.Code})
}

func (e *requestError) orNil() error {
	if len(e.details) == 0 {
		return nil
	}
	return e
}

func fromValidationError(loc string, verr *domain.ValidationError) *requestError {
	re := &requestError{}
	for i := range verr.Fields {
		re.addField(loc, &verr.Fields[i])
	}
	return re
}

// POST /tasks body
type createTaskRequest struct {
	Title       string
	Description string
}

// PATCH /tasks/:id body
type updateTaskRequest struct {
	Title       *string
	Description *string
	Status      *string
}

func readBody(c echo.Context) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodySize {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Request Entity Too Large")
	}
	return data, nil
}

// decodeObject splits a JSON object body into its raw members.
func decodeObject(data []byte) (map[string]json.RawMessage, *requestError) {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, nullJSON):
		return nil, &requestError{details: []validationDetail{{Loc: []string{"body"}, Msg: "Field required", Type: domain.CodeMissing}}}
	case !utf8.Valid(data) || !sonic.ConfigStd.Valid(data):
		return nil, &requestError{details: []validationDetail{{Loc: []string{"body"}, Msg: "JSON decode error", Type: domain.CodeJSONInvalid}}}
	case data[0] != '{':
		return nil, &requestError{details: []validationDetail{{
			Loc:  []string{"body"},
			Msg:  "Input should be a valid dictionary or object to extract fields from",
			Type: domain.CodeNotAnObject,
		}}}
	}

	fields := make(map[string]json.RawMessage)
	if err := sonic.ConfigStd.Unmarshal(data, &fields); err != nil {
		return nil, &requestError{details: []validationDetail{{Loc: []string{"body"}, Msg: "JSON decode error", Type: domain.CodeJSONInvalid}}}
	}
	return fields, nil
}

// stringField extracts a string member. Optional members treat null as absent.
func stringField(fields map[string]json.RawMessage, name string, required bool, re *requestError) *string {
	raw, ok := fields[name]
	if !ok {
		if required {
			re.add(validationDetail{Loc: []string{"body", name}, Msg: "Field required", Type: domain.CodeMissing})
		}
		return nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), nullJSON) && !required {
		return nil
	}
	var s string
	if err := sonic.ConfigStd.Unmarshal(raw, &s); err != nil || bytes.Equal(bytes.TrimSpace(raw), nullJSON) {
		re.add(validationDetail{Loc: []string{"body", name}, Msg: "Input should be a valid string", Type: domain.CodeStringType})
		return nil
	}
	return &s
}

func parseCreateTask(data []byte) (createTaskRequest, error) {
	fields, re := decodeObject(data)
	if re != nil {
		return createTaskRequest{}, re
	}
	re = &requestError{}
	title := stringField(fields, "title", true, re)
	description := stringField(fields, "description", true, re)
	if title != nil {
		re.addField("body", domain.ValidateTitle(*title))
	}
	if description != nil {
		re.addField("body", domain.ValidateDescription(*description))
	}
	if err := re.orNil(); err != nil {
		return createTaskRequest{}, err
	}
	return createTaskRequest{Title: *title, Description: *description}, nil
}

func parseUpdateTask(data []byte) (domain.TaskUpdate, error) {
	fields, re := decodeObject(data)
	if re != nil {
		return domain.TaskUpdate{}, re
	}
	re = &requestError{}
	req := updateTaskRequest{
		Title:       stringField(fields, "title", false, re),
		Description: stringField(fields, "description", false, re),
		Status:      stringField(fields, "status", false, re),
	}

	upd := domain.TaskUpdate{Title: req.Title, Description: req.Description}
	if req.Title != nil {
		re.addField("body", domain.ValidateTitle(*req.Title))
	}
	if req.Description != nil {
		re.addField("body", domain.ValidateDescription(*req.Description))
	}
	if req.Status != nil {
		st, err := domain.ParseStatus(*req.Status)
		if err != nil {
			fe := domain.StatusFieldError("status")
			re.addField("body", &fe)
		} else {
			upd.Status = &st
		}
	}
	if err := re.orNil(); err != nil {
		return domain.TaskUpdate{}, err
	}
	return upd, nil
}

// parseStatusFilter reads the optional ?status= query parameter.
func parseStatusFilter(c echo.Context) (*domain.Status, error) {
	values, ok := c.QueryParams()["status"]
	if !ok || len(values) == 0 {
		return nil, nil
	}
	st, err := domain.ParseStatus(values[len(values)-1])
	if err != nil {
		fe := domain.StatusFieldError("status")
		re := &requestError{}
		re.addField("query", &fe)
		return nil, re
	}
	return &st, nil
}

func asRequestError(err error) (*requestError, bool) {
	var re *requestError
	if errors.As(err, &re) {
		return re, true
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return fromValidationError("body", verr), true
	}
	return nil, false
}
