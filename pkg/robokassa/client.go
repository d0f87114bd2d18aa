package robokassa

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Interface language codes accepted by the gateway.
const (
	CultureEN = "en"
	CultureRU = "ru"
)

// Request methods for web service calls.
const (
	RequestMethodGet  = "get"
	RequestMethodPost = "post"
)

const (
	defaultPaymentBaseURL = "https://auth.robokassa.ru/Merchant/Index.aspx"
	defaultScriptBaseURL  = "https://auth.robokassa.ru/Merchant/PaymentForm/Form"
	defaultServiceBaseURL = "https://auth.robokassa.ru/Merchant/WebService/Service.asmx/"

	connectTimeout = 3 * time.Second
	requestTimeout = 20 * time.Second
)

// Client calls the gateway XML web service on behalf of one shop.
type Client struct {
	auth          *Auth
	culture       string
	requestMethod string

	paymentBaseURL string
	scriptBaseURL  string
	serviceBaseURL string

	httpClient *http.Client
}

// NewClient creates a web service client with the production base URLs and
// the gateway's documented connect/request timeouts.
func NewClient(auth *Auth) *Client {
	return NewClientWithHTTPClient(auth, &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	})
}

// NewClientWithHTTPClient creates a web service client with a custom HTTP
// client.
func NewClientWithHTTPClient(auth *Auth, httpClient *http.Client) *Client {
	return &Client{
		auth:           auth,
		culture:        CultureRU,
		requestMethod:  RequestMethodGet,
		paymentBaseURL: defaultPaymentBaseURL,
		scriptBaseURL:  defaultScriptBaseURL,
		serviceBaseURL: defaultServiceBaseURL,
		httpClient:     httpClient,
	}
}

// Auth returns the credentials the client signs requests with.
func (c *Client) Auth() *Auth { return c.auth }

// Culture returns the interface language sent with web service calls.
func (c *Client) Culture() string { return c.culture }

// SetCulture sets the interface language. Only "en" and "ru" are accepted.
func (c *Client) SetCulture(culture string) error {
	lc := strings.ToLower(culture)
	if lc != CultureEN && lc != CultureRU {
		return fmt.Errorf("%w: %q", ErrInvalidCulture, culture)
	}
	c.culture = lc
	return nil
}

// RequestMethod returns the HTTP method used for web service calls.
func (c *Client) RequestMethod() string { return c.requestMethod }

// SetRequestMethod selects GET or POST for web service calls.
func (c *Client) SetRequestMethod(method string) error {
	lc := strings.ToLower(method)
	if lc != RequestMethodGet && lc != RequestMethodPost {
		return fmt.Errorf("%w: %q", ErrUnsupportedRequestMethod, method)
	}
	c.requestMethod = lc
	return nil
}

// PaymentBaseURL returns the payment form endpoint.
func (c *Client) PaymentBaseURL() string { return c.paymentBaseURL }

// ScriptBaseURL returns the script-embed form endpoint.
func (c *Client) ScriptBaseURL() string { return c.scriptBaseURL }

// SetBaseURLs overrides the gateway endpoints. Empty arguments keep the
// current value. Intended for tests and staging environments.
func (c *Client) SetBaseURLs(payment, script, service string) {
	if payment != "" {
		c.paymentBaseURL = payment
	}
	if script != "" {
		c.scriptBaseURL = script
	}
	if service != "" {
		c.serviceBaseURL = service
	}
}

// CurrencyGroup is one group of payment options, as returned by
// GetCurrencies and, with rates attached, by GetRates.
type CurrencyGroup struct {
	Code        string
	Description string
	Items       []Currency
}

// Currency is a single payment option within a group.
type Currency struct {
	Label string // IncCurrLabel value to request this option
	Name  string // human readable name
	Attrs map[string]string // any further attributes the gateway returned
}

// RateGroup is one group of payment options with calculated client sums.
type RateGroup struct {
	Code        string
	Description string
	Items       []Rate
}

// Rate is a payment option together with the amount the buyer would pay.
type Rate struct {
	Currency
	ClientSum decimal.Decimal
}

// Wire shapes of the web service responses.

type resultXML struct {
	Code        int    `xml:"Code"`
	Description string `xml:"Description"`
}

type currencyXML struct {
	Label string     `xml:"Label,attr"`
	Name  string     `xml:"Name,attr"`
	Attrs []xml.Attr `xml:",any,attr"`
	Rate  struct {
		IncSum decimal.Decimal `xml:"IncSum,attr"`
	} `xml:"Rate"`
}

type groupXML struct {
	Code        string        `xml:"Code,attr"`
	Description string        `xml:"Description,attr"`
	Items       []currencyXML `xml:"Items>Currency"`
}

type groupsResponse struct {
	Result resultXML  `xml:"Result"`
	Groups []groupXML `xml:"Groups>Group"`
}

type methodXML struct {
	Code        string `xml:"Code,attr"`
	Description string `xml:"Description,attr"`
}

type methodsResponse struct {
	Result  resultXML   `xml:"Result"`
	Methods []methodXML `xml:"Methods>Method"`
}

type calcResponse struct {
	Result resultXML       `xml:"Result"`
	OutSum decimal.Decimal `xml:"OutSum"`
}

type opStateResponse struct {
	Result resultXML `xml:"Result"`
	State  struct {
		Code        int       `xml:"Code"`
		RequestDate time.Time `xml:"RequestDate"`
		StateDate   time.Time `xml:"StateDate"`
	} `xml:"State"`
	Info struct {
		IncCurrLabel  string          `xml:"IncCurrLabel"`
		IncSum        decimal.Decimal `xml:"IncSum"`
		IncAccount    string          `xml:"IncAccount"`
		PaymentMethod struct {
			Code        string `xml:"Code"`
			Description string `xml:"Description"`
		} `xml:"PaymentMethod"`
		OutCurrLabel string          `xml:"OutCurrLabel"`
		OutSum       decimal.Decimal `xml:"OutSum"`
	} `xml:"Info"`
}

// GetCurrencies returns the payment options available to the shop, grouped
// the way the gateway presents them on the payment page.
func (c *Client) GetCurrencies(ctx context.Context) ([]CurrencyGroup, error) {
	body, err := c.sendRequest(ctx, "GetCurrencies", url.Values{
		"MerchantLogin": {c.auth.MerchantLogin()},
		"Language":      {c.culture},
	})
	if err != nil {
		return nil, err
	}

	var resp groupsResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse GetCurrencies response: %w", err)
	}
	if err := checkResult(resp.Result); err != nil {
		return nil, err
	}

	groups := make([]CurrencyGroup, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		items := make([]Currency, 0, len(g.Items))
		for _, it := range g.Items {
			items = append(items, newCurrency(it))
		}
		groups = append(groups, CurrencyGroup{Code: g.Code, Description: g.Description, Items: items})
	}
	return groups, nil
}

// GetPaymentMethodGroups returns the available payment method groups as a
// code to description mapping.
func (c *Client) GetPaymentMethodGroups(ctx context.Context) (map[string]string, error) {
	body, err := c.sendRequest(ctx, "GetPaymentMethods", url.Values{
		"MerchantLogin": {c.auth.MerchantLogin()},
		"Language":      {c.culture},
	})
	if err != nil {
		return nil, err
	}

	var resp methodsResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse GetPaymentMethods response: %w", err)
	}
	if err := checkResult(resp.Result); err != nil {
		return nil, err
	}

	methods := make(map[string]string, len(resp.Methods))
	for _, m := range resp.Methods {
		methods[m.Code] = m.Description
	}
	return methods, nil
}

// GetRates returns the payment options with the amount the buyer would be
// charged so that the shop nets shopSum. An empty paymentMethod requests
// all options, an empty culture uses the client's culture.
func (c *Client) GetRates(ctx context.Context, shopSum decimal.Decimal, paymentMethod, culture string) ([]RateGroup, error) {
	if culture == "" {
		culture = c.culture
	}

	body, err := c.sendRequest(ctx, "GetRates", url.Values{
		"MerchantLogin": {c.auth.MerchantLogin()},
		"IncCurrLabel":  {paymentMethod},
		"OutSum":        {shopSum.String()},
		"Language":      {culture},
	})
	if err != nil {
		return nil, err
	}

	var resp groupsResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse GetRates response: %w", err)
	}
	if err := checkResult(resp.Result); err != nil {
		return nil, err
	}

	groups := make([]RateGroup, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		items := make([]Rate, 0, len(g.Items))
		for _, it := range g.Items {
			items = append(items, Rate{Currency: newCurrency(it), ClientSum: it.Rate.IncSum})
		}
		groups = append(groups, RateGroup{Code: g.Code, Description: g.Description, Items: items})
	}
	return groups, nil
}

// CalculateShopSum returns the amount the shop would net after the
// gateway's fee when the buyer pays clientSum through paymentMethod.
func (c *Client) CalculateShopSum(ctx context.Context, clientSum decimal.Decimal, paymentMethod string) (decimal.Decimal, error) {
	if paymentMethod == "" {
		return decimal.Zero, ErrEmptyPaymentMethod
	}

	body, err := c.sendRequest(ctx, "CalcOutSumm", url.Values{
		"MerchantLogin": {c.auth.MerchantLogin()},
		"IncCurrLabel":  {paymentMethod},
		"IncSum":        {clientSum.String()},
	})
	if err != nil {
		return decimal.Zero, err
	}

	var resp calcResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse CalcOutSumm response: %w", err)
	}
	if err := checkResult(resp.Result); err != nil {
		return decimal.Zero, err
	}
	return resp.OutSum, nil
}

// CalculateClientSum returns the amount the buyer must pay through
// paymentMethod so that the shop nets shopSum. The value is taken from the
// first matching GetRates entry; no matching entry is the same
// ErrCalculateSum condition as an unknown method in CalcOutSumm.
func (c *Client) CalculateClientSum(ctx context.Context, shopSum decimal.Decimal, paymentMethod string) (decimal.Decimal, error) {
	if paymentMethod == "" {
		return decimal.Zero, ErrEmptyPaymentMethod
	}

	rates, err := c.GetRates(ctx, shopSum, paymentMethod, "")
	if err != nil {
		return decimal.Zero, err
	}
	if len(rates) == 0 || len(rates[0].Items) == 0 {
		return decimal.Zero, ErrCalculateSum
	}
	return rates[0].Items[0].ClientSum, nil
}

// GetInvoice returns the current state and payment details of an invoice.
// The lookup is signed with the validation password. Note that the gateway
// registers the operation only once the buyer's payment details are
// confirmed, so a recently opened invoice may legitimately report
// ErrInvoiceNotFound.
func (c *Client) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	id := strconv.FormatInt(invoiceID, 10)
	signature := c.auth.SignatureHash("{ml}:{ii}:{vp}", []Field{
		{"ml", c.auth.MerchantLogin()},
		{"ii", id},
		{"vp", c.auth.ValidationPassword()},
	})

	body, err := c.sendRequest(ctx, "OpState", url.Values{
		"MerchantLogin": {c.auth.MerchantLogin()},
		"InvoiceID":     {id},
		"Signature":     {signature},
	})
	if err != nil {
		return nil, err
	}

	var resp opStateResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse OpState response: %w", err)
	}
	if err := checkResult(resp.Result); err != nil {
		return nil, err
	}
	return newInvoice(invoiceID, c.culture, &resp), nil
}

func (c *Client) sendRequest(ctx context.Context, operation string, params url.Values) ([]byte, error) {
	endpoint := c.serviceBaseURL + operation

	var req *http.Request
	var err error
	if c.requestMethod == RequestMethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", operation, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", operation, err)
	}
	return body, nil
}

func checkResult(res resultXML) error {
	if res.Code == 0 {
		return nil
	}
	return &APIError{Code: res.Code, Description: res.Description}
}

func newCurrency(it currencyXML) Currency {
	cur := Currency{Label: it.Label, Name: it.Name}
	if len(it.Attrs) > 0 {
		cur.Attrs = make(map[string]string, len(it.Attrs))
		for _, attr := range it.Attrs {
			cur.Attrs[attr.Name.Local] = attr.Value
		}
	}
	return cur
}
