// Package robokassa provides a merchant client for the Robokassa payment
// gateway (https://docs.robokassa.ru).
//
// The package covers the three merchant-side concerns of the gateway
// protocol: building signed payment URLs, calling the XML web service
// (currencies, payment methods, rates, invoice state) and validating the
// asynchronous Result/Success notifications Robokassa sends back.
//
// # Signing
//
// Every request and notification is protected by a hash of a colon-joined
// signature string. Signature strings are rendered from templates where
// {name} is replaced by a field value and {:name} by ":"+value when the
// value is non-empty, which keeps optional segments (currency, receipt,
// custom parameters) out of the string when they are unset. MD5 is the
// gateway default; the full supported set is listed in SupportedHashAlgorithms.
//
// # Basic Usage
//
//	auth := robokassa.NewAuth("mylogin", "password1", "password2", false)
//	client := robokassa.NewClient(auth)
//
//	payment := robokassa.NewPayment(auth, client)
//	if err := payment.SetSum(decimal.NewFromInt(150)); err != nil {
//	    // ...
//	}
//	payment.SetDescription("Order #53")
//	if err := payment.SetInvoiceID(53); err != nil {
//	    // ...
//	}
//
//	url, err := payment.PaymentURL(ctx)
//	// redirect the buyer to url
//
// # Notification Handling
//
//	// inside the ResultURL handler:
//	ok, err := payment.ValidateResult(ctx, r.URL.Query(), true)
//	if err != nil {
//	    // transport failure while cross-checking the invoice
//	}
//	if ok {
//	    w.Write([]byte(payment.SuccessAnswer()))
//	}
//
// # Error Handling
//
// Invalid configuration is reported by the setters (ErrInvalidCulture,
// ErrUnsupportedHashAlgorithm, ...) and never corrupts previously valid
// state. Remote failures are typed: a non-zero Result/Code from the web
// service becomes an *APIError, and the two codes the protocol gives a
// meaning to can be matched with errors.Is:
//
//	inv, err := client.GetInvoice(ctx, 53)
//	if errors.Is(err, robokassa.ErrInvoiceNotFound) {
//	    // no such invoice yet
//	}
package robokassa
