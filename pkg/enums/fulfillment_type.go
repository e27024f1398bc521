package enums

import "fmt"

// FulfillmentType distinguishes delivery orders from pickup orders.
type FulfillmentType string

const (
	FulfillmentTypeDelivery FulfillmentType = "delivery"
	FulfillmentTypePickup   FulfillmentType = "pickup"
)

var validFulfillmentTypes = []FulfillmentType{
	FulfillmentTypeDelivery,
	FulfillmentTypePickup,
}

// String implements fmt.Stringer.
func (f FulfillmentType) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FulfillmentType.
func (f FulfillmentType) IsValid() bool {
	for _, candidate := range validFulfillmentTypes {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFulfillmentType converts raw input into a FulfillmentType.
func ParseFulfillmentType(value string) (FulfillmentType, error) {
	for _, candidate := range validFulfillmentTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment type %q", value)
}
