package enums

import "fmt"

// FulfillmentState tracks key delivery for a single order item.
type FulfillmentState string

const (
	FulfillmentStateUnfulfilled FulfillmentState = "unfulfilled"
	FulfillmentStateFulfilled   FulfillmentState = "fulfilled"
)

var validFulfillmentStates = []FulfillmentState{
	FulfillmentStateUnfulfilled,
	FulfillmentStateFulfilled,
}

// String implements fmt.Stringer.
func (f FulfillmentState) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FulfillmentState.
func (f FulfillmentState) IsValid() bool {
	for _, candidate := range validFulfillmentStates {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFulfillmentState converts raw input into a FulfillmentState.
func ParseFulfillmentState(value string) (FulfillmentState, error) {
	for _, candidate := range validFulfillmentStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment state %q", value)
}
