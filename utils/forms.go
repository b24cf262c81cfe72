package utils

import (
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	validator "gopkg.in/go-playground/validator.v9"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// use json names in validation errors so they line up with what clients send
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// payload checks an opaque JSON value is present, i.e. not empty, null or ""
	_ = v.RegisterValidation("payload", func(fl validator.FieldLevel) bool {
		raw, ok := fl.Field().Interface().(json.RawMessage)
		if !ok {
			return false
		}
		raw = bytes.TrimSpace(raw)
		return len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte(`""`))
	})
	return v
}

// ValidateStruct runs the struct tag validations on the passed in value
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ReadBody of a HTTP request up to limit bytes and make sure the Body is not consumed
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := ioutil.ReadAll(io.LimitReader(r.Body, limit))
	r.Body = ioutil.NopCloser(bytes.NewBuffer(body))
	return body, err

}

// DecodeAndValidateJSON takes the passed in envelope and tries to unmarshal it from the body
// of the passed in request, then validating it
func DecodeAndValidateJSON(envelope interface{}, r *http.Request) error {
	body, err := ReadBody(r, 100000)
	if err != nil {
		return errors.Wrap(err, "unable to read request body")
	}
	return UnmarshalAndValidate(body, envelope)
}

// UnmarshalAndValidate decodes raw JSON into envelope and validates the result
func UnmarshalAndValidate(data []byte, envelope interface{}) error {
	// try to decode our envelope
	if err := json.Unmarshal(data, envelope); err != nil {
		return errors.Wrap(err, "unable to parse JSON")
	}

	// check our input is valid
	if err := validate.Struct(envelope); err != nil {
		return errors.Wrap(err, "JSON doesn't match required schema")
	}

	return nil
}
