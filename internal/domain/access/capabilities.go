package access

func CapabilitiesFor(state AccessState) []string {
	switch state {
	case AccessFull:
		return []string{"generate", "purchase", "manage_subscription"}
	case AccessLimited:
		return []string{"generate", "purchase", "update_payment_method"}
	default:
		return []string{"generate", "purchase", "subscribe"}
	}
}
