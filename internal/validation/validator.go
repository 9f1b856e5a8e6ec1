package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// an order must not carry the same SKU twice; quantities belong on one
	// line
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	seen := make(map[string]struct{}, len(req.Items))
	for _, it := range req.Items {
		if _, dup := seen[it.SKU]; dup {
			sl.ReportError(req.Items, "items", "Items", "unique_sku",
				fmt.Sprintf("sku %q appears more than once", it.SKU))
			return
		}
		seen[it.SKU] = struct{}{}
	}
}
