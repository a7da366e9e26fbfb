package gateway

// Customer is a provisioned gateway customer.
type Customer struct {
	ID    string
	Name  string
	Phone string
	Email string
}

// CreateCustomerRequest provisions a customer record at the gateway. Phone
// must already be in canonical international format.
type CreateCustomerRequest struct {
	Name  string
	Phone string
	Email string
}

// CardDetails carries raw card input for payment method creation. The
// engine never persists these; they exist only for the outbound call.
type CardDetails struct {
	Number   string
	ExpMonth int
	ExpYear  int
	CVC      string
}

// CreatePaymentMethodRequest creates a payment instrument. Kind is "card"
// or "wallet"; Card is required for kind "card".
type CreatePaymentMethodRequest struct {
	Kind         string
	Card         *CardDetails
	BillingName  string
	BillingPhone string
	BillingEmail string
}

// PaymentMethod is a created gateway payment method.
type PaymentMethod struct {
	ID   string
	Kind string
}

// CreatePaymentIntentRequest starts a charge. Amount is in minor currency
// units.
type CreatePaymentIntentRequest struct {
	Amount      int64
	Currency    string
	CustomerID  string
	Description string
}

// AttachPaymentIntentRequest binds a payment method to an intent, which
// triggers the actual charge.
type AttachPaymentIntentRequest struct {
	IntentID        string
	PaymentMethodID string
}

// PaymentIntent is the gateway's view of a charge.
type PaymentIntent struct {
	ID       string
	Status   string // e.g. "awaiting_payment_method", "processing", "succeeded"
	Amount   int64
	Currency string
}

// SourceStatus is the state of a wallet source resource.
type SourceStatus struct {
	ID     string
	Status string // e.g. "pending", "chargeable", "expired"
}

// Succeeded reports whether the intent's charge has been accepted by the
// gateway. "processing" counts as accepted: the gateway settles
// asynchronously, and the renewal flow treats an accepted charge as paid.
// The rare charge that later settles as failed arrives through the
// payment.failed webhook, which notifies the holder and marks the payment
// failed without revoking the period already granted.
func (pi *PaymentIntent) Succeeded() bool {
	return pi.Status == "succeeded" || pi.Status == "processing"
}
