package robokassa

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Form display variants of the gateway payment form script.
const (
	FormTypeM   = "M"
	FormTypeMS  = "MS"
	FormTypeS   = "S"
	FormTypeSS  = "SS"
	FormTypeL   = "L"
	FormTypeV   = "V"
	FormTypeFL  = "FL"
	FormTypeFLS = "FLS"
)

const (
	customParamPrefix      = "Shp_"
	shopCommissionParamKey = "_shop_commission"

	// ISO-8601 with a numeric zone, the format the gateway expects for
	// ExpirationDate.
	expirationDateFormat = "2006-01-02T15:04:05-07:00"
)

// Payment accumulates the fields of a single payment, builds the signed
// payment and script URLs for it and validates the notifications the
// gateway sends back. A Payment is for single-goroutine use.
type Payment struct {
	auth   *Auth
	client *Client

	sum            decimal.Decimal
	hasSum         bool
	shopCommission bool

	shopSum        decimal.Decimal
	clientSum      decimal.Decimal
	shopSumDirty   bool
	clientSumDirty bool

	invoiceID         int64
	description       string
	paymentMethod     string
	encoding          string
	email             string
	expirationDate    time.Time
	currency          string
	receipt           string
	recurring         bool
	previousInvoiceID int64
	customParams      map[string]string
}

// NewPayment creates a payment bound to the given credentials. A nil
// client gets the default production client.
func NewPayment(auth *Auth, client *Client) *Payment {
	if client == nil {
		client = NewClient(auth)
	}
	return &Payment{
		auth:         auth,
		client:       client,
		customParams: make(map[string]string),
	}
}

// Options configures a Payment in one call. Zero-valued fields are left
// untouched; every set field goes through the matching setter and is
// validated the same way.
type Options struct {
	Sum               decimal.Decimal
	InvoiceID         int64
	Description       string
	PaymentMethod     string
	Culture           string
	Encoding          string
	Email             string
	ExpirationDate    time.Time
	Currency          string
	Receipt           string
	ShopCommission    bool
	Recurring         bool
	PreviousInvoiceID int64
	CustomParams      map[string]string
}

// Apply sets every non-zero option. The first validation failure is
// returned and stops the application; fields already applied keep their
// new values.
func (p *Payment) Apply(opts Options) error {
	if !opts.Sum.IsZero() {
		if err := p.SetSum(opts.Sum); err != nil {
			return err
		}
	}
	if opts.InvoiceID != 0 {
		if err := p.SetInvoiceID(opts.InvoiceID); err != nil {
			return err
		}
	}
	if opts.Description != "" {
		p.SetDescription(opts.Description)
	}
	if opts.PaymentMethod != "" {
		p.SetPaymentMethod(opts.PaymentMethod)
	}
	if opts.Culture != "" {
		if err := p.SetCulture(opts.Culture); err != nil {
			return err
		}
	}
	if opts.Encoding != "" {
		p.SetEncoding(opts.Encoding)
	}
	if opts.Email != "" {
		p.SetEmail(opts.Email)
	}
	if !opts.ExpirationDate.IsZero() {
		p.SetExpirationDate(opts.ExpirationDate)
	}
	if opts.Currency != "" {
		p.SetCurrency(opts.Currency)
	}
	if opts.Receipt != "" {
		p.SetReceipt(opts.Receipt)
	}
	if opts.ShopCommission {
		p.SetShopCommission(true)
	}
	if opts.Recurring {
		p.SetRecurring(true)
	}
	if opts.PreviousInvoiceID != 0 {
		if err := p.SetPreviousInvoiceID(opts.PreviousInvoiceID); err != nil {
			return err
		}
	}
	for key, value := range opts.CustomParams {
		p.SetCustomParam(key, value)
	}
	return nil
}

// Sum returns the nominal payment sum.
func (p *Payment) Sum() decimal.Decimal { return p.sum }

// SetSum sets the nominal sum, normalized to two decimal places. A
// non-positive sum returns ErrInvalidSum. Setting the current value again
// does not invalidate the cached shop/client sums.
func (p *Payment) SetSum(sum decimal.Decimal) error {
	norm := sum.Round(2)
	if norm.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSum, sum)
	}
	if p.hasSum && norm.Equal(p.sum) {
		return nil
	}
	p.sum = norm
	p.hasSum = true
	p.markSumsDirty()
	return nil
}

// ShopCommission reports whether the shop absorbs the gateway fee.
func (p *Payment) ShopCommission() bool { return p.shopCommission }

// SetShopCommission selects who bears the gateway fee. When true the shop
// absorbs it: the buyer pays the nominal sum and the shop nets less.
func (p *Payment) SetShopCommission(shopCommission bool) {
	if p.shopCommission == shopCommission {
		return
	}
	p.shopCommission = shopCommission
	p.markSumsDirty()
}

// InvoiceID returns the invoice identifier, 0 meaning unset.
func (p *Payment) InvoiceID() int64 { return p.invoiceID }

// SetInvoiceID sets the invoice identifier. Negative identifiers return
// ErrInvalidInvoiceID; 0 lets the gateway assign one.
func (p *Payment) SetInvoiceID(id int64) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidInvoiceID, id)
	}
	p.invoiceID = id
	return nil
}

// Description returns the payment description.
func (p *Payment) Description() string { return p.description }

// SetDescription sets the payment description shown to the buyer.
func (p *Payment) SetDescription(description string) { p.description = description }

// PaymentMethod returns the preselected payment method label.
func (p *Payment) PaymentMethod() string { return p.paymentMethod }

// SetPaymentMethod preselects the payment method (IncCurrLabel).
func (p *Payment) SetPaymentMethod(method string) {
	if p.paymentMethod == method {
		return
	}
	p.paymentMethod = method
	p.markSumsDirty()
}

// Culture returns the interface language.
func (p *Payment) Culture() string { return p.client.Culture() }

// SetCulture sets the interface language on the underlying client.
func (p *Payment) SetCulture(culture string) error { return p.client.SetCulture(culture) }

// Encoding returns the page encoding label.
func (p *Payment) Encoding() string { return p.encoding }

// SetEncoding sets the payment page encoding label.
func (p *Payment) SetEncoding(encoding string) { p.encoding = encoding }

// Email returns the buyer email.
func (p *Payment) Email() string { return p.email }

// SetEmail sets the buyer email prefilled on the payment page.
func (p *Payment) SetEmail(email string) { p.email = email }

// ExpirationDate returns the invoice expiration time, zero meaning unset.
func (p *Payment) ExpirationDate() time.Time { return p.expirationDate }

// SetExpirationDate sets the invoice expiration time.
func (p *Payment) SetExpirationDate(t time.Time) { p.expirationDate = t }

// SetExpirationDateString parses and sets the expiration time. An empty
// layout means RFC 3339. Unparseable input returns
// ErrInvalidExpirationDate.
func (p *Payment) SetExpirationDateString(value, layout string) error {
	if layout == "" {
		layout = time.RFC3339
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidExpirationDate, value)
	}
	p.expirationDate = t
	return nil
}

// Currency returns the OutSumCurrency code.
func (p *Payment) Currency() string { return p.currency }

// SetCurrency sets the currency the sum is denominated in
// (OutSumCurrency).
func (p *Payment) SetCurrency(currency string) { p.currency = currency }

// Receipt returns the fiscal receipt payload.
func (p *Payment) Receipt() string { return p.receipt }

// SetReceipt attaches an opaque, pre-escaped fiscal receipt payload. The
// payload participates in the payment signature exactly as given.
func (p *Payment) SetReceipt(receipt string) { p.receipt = receipt }

// Recurring reports whether this payment opens a recurring sequence.
func (p *Payment) Recurring() bool { return p.recurring }

// SetRecurring marks the payment as the opening payment of a recurring
// sequence.
func (p *Payment) SetRecurring(recurring bool) { p.recurring = recurring }

// PreviousInvoiceID returns the parent invoice of a recurring charge.
func (p *Payment) PreviousInvoiceID() int64 { return p.previousInvoiceID }

// SetPreviousInvoiceID references the opening invoice when charging a
// recurring payment.
func (p *Payment) SetPreviousInvoiceID(id int64) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidInvoiceID, id)
	}
	p.previousInvoiceID = id
	return nil
}

// CustomParams returns a copy of the merchant-defined parameters.
func (p *Payment) CustomParams() map[string]string {
	out := make(map[string]string, len(p.customParams))
	for k, v := range p.customParams {
		out[k] = v
	}
	return out
}

// SetCustomParams replaces all merchant-defined parameters.
func (p *Payment) SetCustomParams(params map[string]string) {
	p.customParams = make(map[string]string, len(params))
	for k, v := range params {
		p.customParams[k] = v
	}
}

// SetCustomParam sets one merchant-defined parameter. Keys are
// case-sensitive and stored without the wire prefix.
func (p *Payment) SetCustomParam(key, value string) { p.customParams[key] = value }

// CustomParam returns a merchant-defined parameter and whether it is set.
func (p *Payment) CustomParam(key string) (string, bool) {
	v, ok := p.customParams[key]
	return v, ok
}

// HasCustomParam reports whether a merchant-defined parameter is set.
func (p *Payment) HasCustomParam(key string) bool {
	_, ok := p.customParams[key]
	return ok
}

// RemoveCustomParam removes a merchant-defined parameter.
func (p *Payment) RemoveCustomParam(key string) { delete(p.customParams, key) }

func (p *Payment) markSumsDirty() {
	p.shopSumDirty = true
	p.clientSumDirty = true
}

// ShopSum returns the amount credited to the shop. Without the shop
// commission flag this is the nominal sum; with it the gateway's
// CalcOutSumm result for the selected payment method. The value is cached
// until sum, commission flag or payment method change.
func (p *Payment) ShopSum(ctx context.Context) (decimal.Decimal, error) {
	if !p.hasSum {
		return decimal.Zero, ErrEmptySum
	}
	if p.shopSumDirty {
		if p.shopCommission {
			sum, err := p.client.CalculateShopSum(ctx, p.sum, p.paymentMethod)
			if err != nil {
				return decimal.Zero, err
			}
			p.shopSum = sum
		} else {
			p.shopSum = p.sum
		}
		p.shopSumDirty = false
	}
	return p.shopSum, nil
}

// ClientSum returns the amount the buyer is charged. With the shop
// commission flag this is the nominal sum; without it the gateway's rate
// for the selected payment method. Cached like ShopSum.
func (p *Payment) ClientSum(ctx context.Context) (decimal.Decimal, error) {
	if !p.hasSum {
		return decimal.Zero, ErrEmptySum
	}
	if p.clientSumDirty {
		if p.shopCommission {
			p.clientSum = p.sum
		} else {
			sum, err := p.client.CalculateClientSum(ctx, p.sum, p.paymentMethod)
			if err != nil {
				return decimal.Zero, err
			}
			p.clientSum = sum
		}
		p.clientSumDirty = false
	}
	return p.clientSum, nil
}

// shopSumString renders the shop sum the way it goes on the wire: the
// nominal sum with exactly two decimals, or the remote-calculated value
// as the gateway returned it.
func (p *Payment) shopSumString(ctx context.Context) (string, error) {
	sum, err := p.ShopSum(ctx)
	if err != nil {
		return "", err
	}
	if p.shopCommission {
		return sum.String(), nil
	}
	return sum.StringFixed(2), nil
}

// PaymentSignature renders the signature string of the payment request:
// merchant login, shop sum, invoice id, then the optional currency,
// receipt, the payment password and the optional custom parameters.
func (p *Payment) PaymentSignature(ctx context.Context) (string, error) {
	if !p.hasSum {
		return "", ErrEmptySum
	}
	shopSum, err := p.shopSumString(ctx)
	if err != nil {
		return "", err
	}
	return p.auth.SignatureValue("{ml}:{ss}:{ii}{:cr}{:rc}:{pp}{:cp}", []Field{
		{"ml", p.auth.MerchantLogin()},
		{"ss", shopSum},
		{"ii", p.invoiceIDString()},
		{"cr", p.currency},
		{"rc", p.receipt},
		{"pp", p.auth.PaymentPassword()},
		{"cp", p.customParamsString()},
	}), nil
}

// PaymentSignatureHash returns the digest of PaymentSignature.
func (p *Payment) PaymentSignatureHash(ctx context.Context) (string, error) {
	signature, err := p.PaymentSignature(ctx)
	if err != nil {
		return "", err
	}
	return p.auth.SignatureHash(signature, nil), nil
}

// PaymentURL builds the payment page URL the buyer is redirected to.
func (p *Payment) PaymentURL(ctx context.Context) (string, error) {
	query, err := p.paymentQuery(ctx, false)
	if err != nil {
		return "", err
	}
	return p.client.PaymentBaseURL() + "?" + query.Encode(), nil
}

// ScriptURL builds the URL of the script-embed payment form of the given
// display variant. The FL and FLS variants let the buyer change the price,
// so the sum is passed as DefaultSum instead of OutSum. An empty formType
// means FormTypeM.
func (p *Payment) ScriptURL(ctx context.Context, formType string) (string, error) {
	ft := strings.ToUpper(formType)
	if ft == "" {
		ft = FormTypeM
	}
	defaultSum := ft == FormTypeFL || ft == FormTypeFLS
	query, err := p.paymentQuery(ctx, defaultSum)
	if err != nil {
		return "", err
	}
	return p.client.ScriptBaseURL() + ft + ".js?" + query.Encode(), nil
}

func (p *Payment) paymentQuery(ctx context.Context, defaultSum bool) (url.Values, error) {
	if p.description == "" {
		return nil, ErrEmptyDescription
	}
	hash, err := p.PaymentSignatureHash(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("MerchantLogin", p.auth.MerchantLogin())
	query.Set("Description", p.description)
	query.Set("SignatureValue", hash)

	if defaultSum {
		query.Set("DefaultSum", p.sum.StringFixed(2))
	} else {
		shopSum, err := p.shopSumString(ctx)
		if err != nil {
			return nil, err
		}
		query.Set("OutSum", shopSum)
	}

	if p.invoiceID != 0 {
		query.Set("InvId", strconv.FormatInt(p.invoiceID, 10))
	}
	if culture := p.client.Culture(); culture != "" {
		query.Set("Culture", culture)
	}
	if p.encoding != "" {
		query.Set("Encoding", p.encoding)
	}
	if p.email != "" {
		query.Set("Email", p.email)
	}
	if !p.expirationDate.IsZero() {
		query.Set("ExpirationDate", p.expirationDate.Format(expirationDateFormat))
	}
	if p.currency != "" {
		query.Set("OutSumCurrency", p.currency)
	}
	if p.paymentMethod != "" {
		query.Set("IncCurrLabel", p.paymentMethod)
	}
	if p.receipt != "" {
		query.Set("Receipt", p.receipt)
	}
	if p.auth.Test() {
		query.Set("isTest", "1")
	}
	if p.recurring {
		query.Set("Recurring", "true")
	}
	if p.previousInvoiceID != 0 {
		query.Set("PreviousInvoiceID", strconv.FormatInt(p.previousInvoiceID, 10))
	}
	for key, value := range p.wireParams() {
		query.Set(key, value)
	}
	return query, nil
}

func (p *Payment) invoiceIDString() string {
	if p.invoiceID == 0 {
		return ""
	}
	return strconv.FormatInt(p.invoiceID, 10)
}

// wireParams returns the custom parameters keyed by their prefixed wire
// names. The shop commission flag travels as a reserved custom parameter
// so it survives the round trip through the gateway.
func (p *Payment) wireParams() map[string]string {
	out := make(map[string]string, len(p.customParams)+1)
	for key, value := range p.customParams {
		out[customParamPrefix+key] = value
	}
	if p.shopCommission {
		out[customParamPrefix+shopCommissionParamKey] = "1"
	}
	return out
}

// customParamsString renders the custom parameters for signatures:
// prefixed key=value pairs joined by colons, in ascending key order.
func (p *Payment) customParamsString() string {
	params := p.wireParams()
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+params[key])
	}
	return strings.Join(parts, ":")
}

// ValidateResult checks a ResultURL notification against the validation
// password. With strict set the invoice state is additionally
// cross-checked with the gateway. A malformed or rejected notification
// yields (false, nil); an error is returned only for transport failures
// during the strict cross-check.
func (p *Payment) ValidateResult(ctx context.Context, params url.Values, strict bool) (bool, error) {
	return p.validate(ctx, params, p.auth.ValidationPassword(), strict)
}

// ValidateSuccess checks a SuccessURL redirect against the payment
// password. Semantics match ValidateResult.
func (p *Payment) ValidateSuccess(ctx context.Context, params url.Values, strict bool) (bool, error) {
	return p.validate(ctx, params, p.auth.PaymentPassword(), strict)
}

func (p *Payment) validate(ctx context.Context, params url.Values, password string, strict bool) (bool, error) {
	if !params.Has("InvId") || !params.Has("OutSum") || !params.Has("SignatureValue") {
		return false, nil
	}
	outSum := params.Get("OutSum")
	invID := params.Get("InvId")

	sum, err := decimal.NewFromString(outSum)
	if err != nil || sum.Sign() <= 0 {
		return false, nil
	}
	if err := p.applyCallbackParams(params); err != nil {
		return false, nil
	}
	id, err := strconv.ParseInt(invID, 10, 64)
	if err != nil || p.SetInvoiceID(id) != nil {
		return false, nil
	}

	expected := p.auth.SignatureHash("{os}:{ii}:{pp}{:cp}", []Field{
		{"os", outSum},
		{"ii", invID},
		{"pp", password},
		{"cp", p.customParamsString()},
	})
	if !EqualSignatures(params.Get("SignatureValue"), expected) {
		return false, nil
	}
	if !p.hasSum || !sum.Equal(p.sum) {
		p.sum = sum
		p.hasSum = true
		p.markSumsDirty()
	}
	if !strict {
		return true, nil
	}

	invoice, err := p.client.GetInvoice(ctx, id)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			// includes ErrInvoiceNotFound: the notification does not
			// match a completed operation, so it is simply invalid
			return false, nil
		}
		return false, err
	}
	if invoice.StateCode() != StateCompleted || !sum.Equal(invoice.ShopSum()) {
		return false, nil
	}

	// adopt the settled amounts reported by the gateway
	p.paymentMethod = invoice.PaymentMethod()
	p.shopSum = invoice.ShopSum()
	p.clientSum = invoice.ClientSum()
	p.shopSumDirty = false
	p.clientSumDirty = false
	return true, nil
}

// applyCallbackParams merges the recognized notification fields into the
// payment through the regular setters.
func (p *Payment) applyCallbackParams(params url.Values) error {
	for key := range params {
		value := params.Get(key)
		switch key {
		case "InvId", "OutSum", "SignatureValue":
			// handled by validate
		case "Culture":
			if err := p.SetCulture(value); err != nil {
				return err
			}
		case "Email":
			p.SetEmail(value)
		case "Encoding":
			p.SetEncoding(value)
		case "IncCurrLabel":
			p.SetPaymentMethod(value)
		case "OutSumCurrency":
			p.SetCurrency(value)
		case customParamPrefix + shopCommissionParamKey:
			p.SetShopCommission(value == "1" || strings.EqualFold(value, "true"))
		default:
			if strings.HasPrefix(key, customParamPrefix) {
				p.SetCustomParam(strings.TrimPrefix(key, customParamPrefix), value)
			}
		}
	}
	return nil
}

// SuccessAnswer returns the acknowledgement body the ResultURL handler
// must respond with after a successful validation.
func (p *Payment) SuccessAnswer() string {
	return "OK" + strconv.FormatInt(p.invoiceID, 10) + "\n"
}
