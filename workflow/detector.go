package workflow

import (
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/gateway"
	"github.com/XCarlosEduardoX/backend-darkmart-sub000/models"
)

// DetectedMethod is the payment-method detector's result.
type DetectedMethod struct {
	Method        models.PaymentMethod
	IsCashVoucher bool
	// Suffix is the masked instrument suffix (card last4) when known.
	Suffix string
}

// DetectPaymentMethod resolves the instrument actually used from several
// inconsistent gateway-supplied fields, in priority order:
//
//  1. charge-level payment_method_details (most reliable)
//  2. session-level method-type list containing the voucher, cross-checked
//     against a plausible status
//  3. intent-level method-type list
//  4. default: card
//
// A tentative voucher result is re-validated against the intent/session
// status; if incompatible it is demoted back to card to avoid false
// positives. Pure function; no side effects.
func DetectPaymentMethod(session *gateway.CheckoutSession, intent *gateway.PaymentIntent, order *models.Order) DetectedMethod {
	_ = order // reserved for instrument hints stored at checkout

	if intent != nil && intent.LatestCharge != nil && intent.LatestCharge.PaymentMethodDetails != nil {
		details := intent.LatestCharge.PaymentMethodDetails
		if details.Type != "" {
			det := DetectedMethod{
				Method:        models.PaymentMethod(details.Type),
				IsCashVoucher: details.Type == string(models.PaymentMethodCashVoucher),
			}
			if details.Card != nil {
				det.Suffix = details.Card.Last4
			}
			return det
		}
	}

	tentativeVoucher := false
	if session != nil && containsMethod(session.PaymentMethodTypes, models.PaymentMethodCashVoucher) {
		tentativeVoucher = true
	} else if intent != nil && containsMethod(intent.PaymentMethodTypes, models.PaymentMethodCashVoucher) {
		tentativeVoucher = true
	}

	if tentativeVoucher && voucherStatusPlausible(session, intent) {
		return DetectedMethod{Method: models.PaymentMethodCashVoucher, IsCashVoucher: true}
	}

	// Single unambiguous method type on the intent wins over the default.
	if intent != nil && len(intent.PaymentMethodTypes) == 1 && intent.PaymentMethodTypes[0] != "" {
		m := models.PaymentMethod(intent.PaymentMethodTypes[0])
		return DetectedMethod{Method: m, IsCashVoucher: m == models.PaymentMethodCashVoucher}
	}

	return DetectedMethod{Method: models.PaymentMethodCard}
}

func containsMethod(types []string, method models.PaymentMethod) bool {
	for _, t := range types {
		if t == string(method) {
			return true
		}
	}
	return false
}

// voucherStatusPlausible is the consistency check that demotes a tentative
// voucher detection: a voucher flow sits in requires_action or processing
// (and stays detectable once succeeded); anything earlier or canceled means
// the voucher method types were just offered, not used.
func voucherStatusPlausible(session *gateway.CheckoutSession, intent *gateway.PaymentIntent) bool {
	if intent != nil {
		switch intent.Status {
		case gateway.IntentStatusRequiresAction, gateway.IntentStatusProcessing, gateway.IntentStatusSucceeded:
			return true
		}
		return false
	}
	if session != nil {
		return session.PaymentStatus == "unpaid"
	}
	return false
}
