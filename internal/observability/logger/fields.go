package logger

import (
	"time"

	"go.uber.org/zap"
)

// Standard HTTP fields.

// RequestID builds a field for the request id.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method builds a field for the HTTP method.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path builds a field for the request path.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status builds a field for the HTTP status code.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration builds a field for the request duration.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Standard business fields.

// TenancyID builds a field for the tenancy id.
func TenancyID(v string) zap.Field {
	return zap.String("tenancy_id", v)
}

// UserID builds a field for the user id.
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// Provider builds a field for the OAuth provider config id.
func Provider(v string) zap.Field {
	return zap.String("provider", v)
}

// FlowType builds a field for the callback flow type (sign_in | link).
func FlowType(v string) zap.Field {
	return zap.String("flow_type", v)
}

// Standard system fields.

// Component builds a field for the component/module name.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op builds a field for the current operation.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer builds a field for the layer (controller, service, store).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err builds a field for an error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Generic fields.

// String builds a generic string field.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int builds a generic int field.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool builds a generic bool field.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

// Any builds a generic field for arbitrary values.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
