package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smartpop/popup-analytics/internal/domain"
)

// MetadataLimits bounds on the free-form metadata object
type MetadataLimits struct {
	MaxDepth int
	MaxBytes int
	MaxKeys  int
}

// DefaultMetadataLimits 5 levels, 100 KiB, 50 top-level keys
var DefaultMetadataLimits = MetadataLimits{MaxDepth: 5, MaxBytes: 100 * 1024, MaxKeys: 50}

// EventValidator validates ingest payloads
type EventValidator struct {
	validate *validator.Validate
	limits   MetadataLimits
}

// NewEventValidator creates a validator with the eventtype rule registered
func NewEventValidator(limits MetadataLimits) *EventValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("eventtype", func(fl validator.FieldLevel) bool {
		return domain.EventType(fl.Field().String()).Valid()
	})

	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultMetadataLimits.MaxDepth
	}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultMetadataLimits.MaxBytes
	}
	if limits.MaxKeys <= 0 {
		limits.MaxKeys = DefaultMetadataLimits.MaxKeys
	}
	return &EventValidator{validate: v, limits: limits}
}

// ValidateBatch validates every event; the first failure is returned as *domain.ValidationError
func (v *EventValidator) ValidateBatch(events []domain.EventInput) error {
	for i := range events {
		if err := v.Validate(i, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single event. index is reported back in the error.
func (v *EventValidator) Validate(index int, in *domain.EventInput) error {
	if err := v.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &domain.ValidationError{Index: index, Field: fe.Field(), Reason: describe(fe)}
		}
		return &domain.ValidationError{Index: index, Reason: err.Error()}
	}

	if strings.TrimSpace(in.VisitorID) == "" && strings.TrimSpace(in.VisitorIP) == "" {
		return &domain.ValidationError{Index: index, Field: "visitor_id", Reason: "visitor_id or visitor_ip is required"}
	}
	if strings.TrimSpace(in.ShopDomain) == "" {
		return &domain.ValidationError{Index: index, Field: "shop_domain", Reason: "is required"}
	}
	if in.Timestamp.IsZero() {
		return &domain.ValidationError{Index: index, Field: "timestamp", Reason: "is required"}
	}
	if in.AttributionWindow > domain.MaxAttributionWindow.Milliseconds() {
		return &domain.ValidationError{Index: index, Field: "attribution_window", Reason: "exceeds 90 days"}
	}
	if err := v.checkMetadata(in.Metadata); err != nil {
		return &domain.ValidationError{Index: index, Field: "metadata", Reason: err.Error()}
	}
	return nil
}

func (v *EventValidator) checkMetadata(md map[string]interface{}) error {
	if md == nil {
		return nil
	}
	if len(md) > v.limits.MaxKeys {
		return fmt.Errorf("more than %d keys", v.limits.MaxKeys)
	}
	if d := depth(md); d > v.limits.MaxDepth {
		return fmt.Errorf("nesting depth %d exceeds %d", d, v.limits.MaxDepth)
	}
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("not serializable: %w", err)
	}
	if len(data) > v.limits.MaxBytes {
		return fmt.Errorf("serialized size %d exceeds %d bytes", len(data), v.limits.MaxBytes)
	}
	return nil
}

// depth nesting level of a decoded JSON value; scalars are 0, {} is 1
func depth(v interface{}) int {
	switch t := v.(type) {
	case map[string]interface{}:
		deepest := 0
		for _, child := range t {
			if d := depth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	case []interface{}:
		deepest := 0
		for _, child := range t {
			if d := depth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	default:
		return 0
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "eventtype":
		return fmt.Sprintf("unknown event type %q", fe.Value())
	case "email":
		return "is not a valid email"
	case "max":
		return "exceeds " + fe.Param() + " characters"
	case "gte":
		return "must be >= " + fe.Param()
	default:
		return "failed on " + fe.Tag()
	}
}
