package cron

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/shortlink-edge/internal/apierr"
)

// InvalidatePartnerPayload asks for a partner's link cache entries to be expired.
type InvalidatePartnerPayload struct {
	PartnerID string `json:"partnerId" validate:"required"`
}

// ChargeSucceededPayload reports a paid payout invoice.
type ChargeSucceededPayload struct {
	InvoiceID string `json:"invoiceId" validate:"required"`
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode parses body into T and validates it. Unknown fields and trailing
// data are rejected. Nothing downstream sees a payload that failed validation.
func decode[T any](v *validator.Validate, body []byte) (T, error) {
	var payload T
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return payload, apierr.Wrap(apierr.BadRequest, fmt.Sprintf("Unrecognized key: %s.", field), err)
		}
		return payload, fmt.Errorf("decode payload: %w", err)
	}
	if dec.More() {
		return payload, apierr.New(apierr.BadRequest, "Unexpected data after JSON body.")
	}
	if err := v.Struct(&payload); err != nil {
		return payload, fmt.Errorf("validate payload: %w", err)
	}
	return payload, nil
}
