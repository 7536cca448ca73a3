package engine

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateKind   = errors.New("column kind already registered")
	ErrUnknownKind     = errors.New("unknown column kind")
	ErrRegistrySealed  = errors.New("registry is sealed")
	ErrCycle           = errors.New("sub-report link creates a cycle")
	ErrNotFound        = errors.New("not found")
	ErrNotLinkable     = errors.New("column cannot host this sub-report")
	ErrSeveralSelected = errors.New("more than one column selected for expansion")
)

// Reasons carried by InvalidColumnError.
const (
	ReasonNotExist        = "does not exist"
	ReasonTooDeep         = "too deep"
	ReasonInvalidFunction = "invalid function field"
	ReasonInvalidCustom   = "invalid custom field"
	ReasonInvalidRelation = "invalid relation type"
	ReasonInvalidAgg      = "invalid aggregation"
	ReasonNotAggregatable = "not aggregatable"
	ReasonNotAllowed      = "not allowed"
	ReasonUnknownKind     = "unknown kind"
)

// ConfigurationError is a fatal misconfiguration found while registering
// column kinds or linking sub-reports.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// InvalidColumnError means a ColumnSpec can never be resolved. Fetches drop
// such columns and delete them from storage.
type InvalidColumnError struct {
	Kind   ColumnKind
	Value  string
	Reason string
	Err    error
}

func (e *InvalidColumnError) Error() string {
	msg := fmt.Sprintf("invalid %s column %q: %s", e.Kind, e.Value, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidColumnError) Unwrap() error { return e.Err }

func invalidColumn(spec ColumnSpec, reason string, err error) error {
	return &InvalidColumnError{Kind: spec.Kind, Value: spec.Value, Reason: reason, Err: err}
}

// AxisError describes an unusable chart axis. It is reported on the chart
// result, never returned from a fetch.
type AxisError struct {
	Axis    string // "abscissa" or "ordinate"
	Message string
}

func (e *AxisError) Error() string { return e.Axis + ": " + e.Message }
