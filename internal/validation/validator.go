package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with the struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// razorpay confirmations are signed by the checkout widget; stripe ones
	// are checked against the intent instead
	v.RegisterStructValidation(verifyPaymentStructValidation, VerifyPaymentRequest{})

	return v
}

func verifyPaymentStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(VerifyPaymentRequest)

	if (req.PaymentMethod == "" || req.PaymentMethod == "razorpay") && req.Signature == "" {
		sl.ReportError(req.Signature, "signature", "Signature", "required_for_razorpay", "")
	}
}
