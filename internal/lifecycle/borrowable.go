// internal/lifecycle/borrowable.go
package lifecycle

import (
	"fmt"
	"math"
)

// Reason explains why an asset cannot be borrowed.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonWrongState             Reason = "wrong-state"
	ReasonPreservationRestricted Reason = "preservation-restricted"
	ReasonRestrictedAccessDenied Reason = "restricted-access-denied"
)

// Metadata keys and values that act as category overrides on borrowability.
const (
	MetaAccess           = "access"
	MetaAccessRestricted = "Restricted"
	MetaPreservation     = "preservation"
	MetaPreservationHigh = "High"
)

// CanBorrow applies the base state check plus the metadata overrides that
// do not depend on who is borrowing. A high-preservation asset is never
// lendable, whatever its state.
func CanBorrow(state State, metadata map[string]any) (bool, Reason) {
	if metaEquals(metadata, MetaPreservation, MetaPreservationHigh) {
		return false, ReasonPreservationRestricted
	}
	if state != Available {
		return false, ReasonWrongState
	}
	return true, ReasonNone
}

// AccessRestricted reports whether the asset requires the restricted-access capability.
func AccessRestricted(metadata map[string]any) bool {
	return metaEquals(metadata, MetaAccess, MetaAccessRestricted)
}

func metaEquals(metadata map[string]any, key, want string) bool {
	v, ok := metadata[key]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == want
}

// InvalidConditionReportError reports a condition rating outside 1..10 or not whole.
type InvalidConditionReportError struct {
	Rating float64
}

func (e *InvalidConditionReportError) Error() string {
	return fmt.Sprintf("invalid condition report: rating %v must be an integer between 1 and 10", e.Rating)
}

// ValidateRating checks a condition report rating and returns it as an int.
func ValidateRating(rating float64) (int, error) {
	if math.IsNaN(rating) || math.IsInf(rating, 0) || rating != math.Trunc(rating) || rating < 1 || rating > 10 {
		return 0, &InvalidConditionReportError{Rating: rating}
	}
	return int(rating), nil
}
