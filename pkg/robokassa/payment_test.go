package robokassa

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestPayment(t *testing.T, responses map[string]string) (*Payment, *mockGateway) {
	t.Helper()
	client, gateway := newTestClient(t, responses)
	return NewPayment(client.Auth(), client), gateway
}

func TestPaymentSignatureHash(t *testing.T) {
	ctx := context.Background()

	t.Run("custom params sorted", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
			t.Fatal(err)
		}
		if err := p.SetInvoiceID(53); err != nil {
			t.Fatal(err)
		}
		p.SetCurrency("USD")
		p.SetCustomParam("foo", "foo value")
		p.SetCustomParam("bar", "bar value")

		signature, err := p.PaymentSignature(ctx)
		if err != nil {
			t.Fatalf("PaymentSignature() error: %v", err)
		}
		want := "login:150.00:53:USD:pass1:Shp_bar=bar value:Shp_foo=foo value"
		if signature != want {
			t.Errorf("PaymentSignature() = %q, want %q", signature, want)
		}
		hash, err := p.PaymentSignatureHash(ctx)
		if err != nil {
			t.Fatalf("PaymentSignatureHash() error: %v", err)
		}
		if hash != "36a95458024a31d5e8db246f384527d8" {
			t.Errorf("PaymentSignatureHash() = %q", hash)
		}
	})

	t.Run("minimal fields", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
			t.Fatal(err)
		}
		if err := p.SetInvoiceID(53); err != nil {
			t.Fatal(err)
		}
		hash, err := p.PaymentSignatureHash(ctx)
		if err != nil {
			t.Fatalf("PaymentSignatureHash() error: %v", err)
		}
		if hash != "19ee5a0d0764f0005f68de9919db53d3" {
			t.Errorf("PaymentSignatureHash() = %q", hash)
		}
	})

	t.Run("unset invoice id renders empty", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		if err := p.SetSum(decimal.NewFromInt(123)); err != nil {
			t.Fatal(err)
		}
		signature, err := p.PaymentSignature(ctx)
		if err != nil {
			t.Fatalf("PaymentSignature() error: %v", err)
		}
		if signature != "login:123.00::pass1" {
			t.Errorf("PaymentSignature() = %q", signature)
		}
		hash, err := p.PaymentSignatureHash(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if hash != "ca2138b1c6509c2659303f56c9ae3353" {
			t.Errorf("PaymentSignatureHash() = %q", hash)
		}
	})

	t.Run("without sum", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		if _, err := p.PaymentSignature(ctx); !errors.Is(err, ErrEmptySum) {
			t.Fatalf("error = %v, want ErrEmptySum", err)
		}
	})
}

func TestPaymentSignatureShopCommission(t *testing.T) {
	p, _ := newTestPayment(t, map[string]string{"CalcOutSumm": calcXML})
	if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
		t.Fatal(err)
	}
	p.SetPaymentMethod("WMRM")
	p.SetShopCommission(true)

	ctx := context.Background()
	signature, err := p.PaymentSignature(ctx)
	if err != nil {
		t.Fatalf("PaymentSignature() error: %v", err)
	}
	// the shop sum is remote-calculated (143), rendered as returned
	want := "login:143::pass1:Shp__shop_commission=1"
	if signature != want {
		t.Errorf("PaymentSignature() = %q, want %q", signature, want)
	}
	hash, err := p.PaymentSignatureHash(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if hash != "b6c901935e83c3198caeee0ac8006679" {
		t.Errorf("PaymentSignatureHash() = %q", hash)
	}
}

func TestShopAndClientSums(t *testing.T) {
	ctx := context.Background()

	t.Run("buyer pays the fee", func(t *testing.T) {
		p, gateway := newTestPayment(t, map[string]string{"GetRates": ratesXML})
		if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
			t.Fatal(err)
		}
		p.SetPaymentMethod("WMRM")

		shopSum, err := p.ShopSum(ctx)
		if err != nil {
			t.Fatalf("ShopSum() error: %v", err)
		}
		if !shopSum.Equal(decimal.NewFromInt(150)) {
			t.Errorf("ShopSum() = %s, want 150", shopSum)
		}

		clientSum, err := p.ClientSum(ctx)
		if err != nil {
			t.Fatalf("ClientSum() error: %v", err)
		}
		if want := decimal.RequireFromString("157.37"); !clientSum.Equal(want) {
			t.Errorf("ClientSum() = %s, want %s", clientSum, want)
		}

		// second call is served from cache
		delete(gateway.requests, "GetRates")
		if _, err := p.ClientSum(ctx); err != nil {
			t.Fatal(err)
		}
		if _, called := gateway.requests["GetRates"]; called {
			t.Error("cached ClientSum() hit the gateway again")
		}

		// changing the sum invalidates the cache
		if err := p.SetSum(decimal.NewFromInt(200)); err != nil {
			t.Fatal(err)
		}
		if _, err := p.ClientSum(ctx); err != nil {
			t.Fatal(err)
		}
		if _, called := gateway.requests["GetRates"]; !called {
			t.Error("ClientSum() did not recalculate after SetSum")
		}
	})

	t.Run("shop absorbs the fee", func(t *testing.T) {
		p, _ := newTestPayment(t, map[string]string{"CalcOutSumm": calcXML})
		if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
			t.Fatal(err)
		}
		p.SetPaymentMethod("WMRM")
		p.SetShopCommission(true)

		clientSum, err := p.ClientSum(ctx)
		if err != nil {
			t.Fatalf("ClientSum() error: %v", err)
		}
		if !clientSum.Equal(decimal.NewFromInt(150)) {
			t.Errorf("ClientSum() = %s, want 150", clientSum)
		}

		shopSum, err := p.ShopSum(ctx)
		if err != nil {
			t.Fatalf("ShopSum() error: %v", err)
		}
		if !shopSum.Equal(decimal.NewFromInt(143)) {
			t.Errorf("ShopSum() = %s, want 143", shopSum)
		}
	})

	t.Run("setting the same sum keeps the cache", func(t *testing.T) {
		p, gateway := newTestPayment(t, map[string]string{"GetRates": ratesXML})
		if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
			t.Fatal(err)
		}
		p.SetPaymentMethod("WMRM")
		if _, err := p.ClientSum(ctx); err != nil {
			t.Fatal(err)
		}
		delete(gateway.requests, "GetRates")
		if err := p.SetSum(decimal.RequireFromString("150.00")); err != nil {
			t.Fatal(err)
		}
		if _, err := p.ClientSum(ctx); err != nil {
			t.Fatal(err)
		}
		if _, called := gateway.requests["GetRates"]; called {
			t.Error("SetSum with an equal value invalidated the cache")
		}
	})
}

func TestPaymentURL(t *testing.T) {
	p, _ := newTestPayment(t, nil)
	if err := p.Apply(Options{
		Sum:         decimal.NewFromInt(150),
		InvoiceID:   53,
		Description: "Order #53",
		Email:       "buyer@example.com",
		CustomParams: map[string]string{
			"user": "56",
		},
	}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	rawURL, err := p.PaymentURL(context.Background())
	if err != nil {
		t.Fatalf("PaymentURL() error: %v", err)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("PaymentURL() returned unparseable URL %q: %v", rawURL, err)
	}

	query := parsed.Query()
	want := map[string]string{
		"MerchantLogin": "login",
		"OutSum":        "150.00",
		"InvId":         "53",
		"Description":   "Order #53",
		"Email":         "buyer@example.com",
		"Culture":       "ru",
		"Shp_user":      "56",
	}
	for key, value := range want {
		if query.Get(key) != value {
			t.Errorf("query[%q] = %q, want %q", key, query.Get(key), value)
		}
	}
	if query.Get("SignatureValue") == "" {
		t.Error("SignatureValue is missing")
	}
	if query.Has("isTest") {
		t.Error("isTest present for a production payment")
	}
}

func TestPaymentURLTestMode(t *testing.T) {
	gateway := newMockGateway(t, nil)
	auth := NewAuth("login", "pass1", "pass2", true)
	client := NewClientWithHTTPClient(auth, gateway.server.Client())
	client.SetBaseURLs("", "", gateway.server.URL+"/")
	p := NewPayment(auth, client)

	if err := p.SetSum(decimal.NewFromInt(10)); err != nil {
		t.Fatal(err)
	}
	p.SetDescription("test order")

	rawURL, err := p.PaymentURL(context.Background())
	if err != nil {
		t.Fatalf("PaymentURL() error: %v", err)
	}
	parsed, _ := url.Parse(rawURL)
	if parsed.Query().Get("isTest") != "1" {
		t.Error("isTest is not set for a test-mode payment")
	}
}

func TestPaymentURLValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty description", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
			t.Fatal(err)
		}
		if _, err := p.PaymentURL(ctx); !errors.Is(err, ErrEmptyDescription) {
			t.Fatalf("error = %v, want ErrEmptyDescription", err)
		}
	})

	t.Run("empty sum", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		p.SetDescription("order")
		if _, err := p.PaymentURL(ctx); !errors.Is(err, ErrEmptySum) {
			t.Fatalf("error = %v, want ErrEmptySum", err)
		}
	})
}

func TestPaymentURLExpirationDate(t *testing.T) {
	p, _ := newTestPayment(t, nil)
	if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
		t.Fatal(err)
	}
	p.SetDescription("order")
	moscow := time.FixedZone("MSK", 3*60*60)
	p.SetExpirationDate(time.Date(2026, 9, 1, 12, 30, 0, 0, moscow))

	rawURL, err := p.PaymentURL(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	parsed, _ := url.Parse(rawURL)
	if got := parsed.Query().Get("ExpirationDate"); got != "2026-09-01T12:30:00+03:00" {
		t.Errorf("ExpirationDate = %q", got)
	}
}

func TestScriptURL(t *testing.T) {
	ctx := context.Background()

	t.Run("fixed sum form", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
			t.Fatal(err)
		}
		p.SetDescription("order")

		rawURL, err := p.ScriptURL(ctx, FormTypeMS)
		if err != nil {
			t.Fatalf("ScriptURL() error: %v", err)
		}
		if !strings.Contains(rawURL, "FormMS.js?") {
			t.Errorf("ScriptURL() = %q, want FormMS.js endpoint", rawURL)
		}
		parsed, _ := url.Parse(rawURL)
		if parsed.Query().Get("OutSum") != "150.00" {
			t.Errorf("OutSum = %q, want 150.00", parsed.Query().Get("OutSum"))
		}
	})

	t.Run("free sum form", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
			t.Fatal(err)
		}
		p.SetDescription("donation")

		rawURL, err := p.ScriptURL(ctx, FormTypeFL)
		if err != nil {
			t.Fatalf("ScriptURL() error: %v", err)
		}
		if !strings.Contains(rawURL, "FormFL.js?") {
			t.Errorf("ScriptURL() = %q, want FormFL.js endpoint", rawURL)
		}
		parsed, _ := url.Parse(rawURL)
		query := parsed.Query()
		if query.Get("DefaultSum") != "150.00" {
			t.Errorf("DefaultSum = %q, want 150.00", query.Get("DefaultSum"))
		}
		if query.Has("OutSum") {
			t.Error("OutSum present on a free-sum form")
		}
	})

	t.Run("default form type", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		if err := p.SetSum(decimal.NewFromInt(150)); err != nil {
			t.Fatal(err)
		}
		p.SetDescription("order")

		rawURL, err := p.ScriptURL(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(rawURL, "FormM.js?") {
			t.Errorf("ScriptURL() = %q, want FormM.js endpoint", rawURL)
		}
	})
}

func TestValidateResult(t *testing.T) {
	ctx := context.Background()

	t.Run("valid notification", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		params := url.Values{
			"OutSum":         {"150"},
			"InvId":          {"123"},
			"SignatureValue": {"0109ea77984a645bf105f563abee3fe2"},
		}
		ok, err := p.ValidateResult(ctx, params, false)
		if err != nil {
			t.Fatalf("ValidateResult() error: %v", err)
		}
		if !ok {
			t.Fatal("ValidateResult() = false, want true")
		}
		if p.InvoiceID() != 123 {
			t.Errorf("invoice id = %d, want 123", p.InvoiceID())
		}
		if p.SuccessAnswer() != "OK123\n" {
			t.Errorf("SuccessAnswer() = %q", p.SuccessAnswer())
		}
	})

	t.Run("uppercase signature accepted", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		params := url.Values{
			"OutSum":         {"150"},
			"InvId":          {"123"},
			"SignatureValue": {"0109EA77984A645BF105F563ABEE3FE2"},
		}
		ok, err := p.ValidateResult(ctx, params, false)
		if err != nil || !ok {
			t.Fatalf("ValidateResult() = %v, %v; want true, nil", ok, err)
		}
	})

	t.Run("custom params merged into signature", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		params := url.Values{
			"OutSum":         {"150"},
			"InvId":          {"123"},
			"Shp_user":       {"56"},
			"SignatureValue": {"0553c14e36491d60db3470f726eb658c"},
		}
		ok, err := p.ValidateResult(ctx, params, false)
		if err != nil || !ok {
			t.Fatalf("ValidateResult() = %v, %v; want true, nil", ok, err)
		}
		if v, _ := p.CustomParam("user"); v != "56" {
			t.Errorf("custom param user = %q, want 56", v)
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		params := url.Values{
			"OutSum":         {"150"},
			"InvId":          {"123"},
			"SignatureValue": {"deadbeefdeadbeefdeadbeefdeadbeef"},
		}
		ok, err := p.ValidateResult(ctx, params, false)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("ValidateResult() accepted a wrong signature")
		}
	})

	t.Run("missing required fields", func(t *testing.T) {
		for _, missing := range []string{"OutSum", "InvId", "SignatureValue"} {
			params := url.Values{
				"OutSum":         {"150"},
				"InvId":          {"123"},
				"SignatureValue": {"0109ea77984a645bf105f563abee3fe2"},
			}
			params.Del(missing)
			p, _ := newTestPayment(t, nil)
			ok, err := p.ValidateResult(ctx, params, false)
			if err != nil {
				t.Fatal(err)
			}
			if ok {
				t.Errorf("ValidateResult() accepted params without %s", missing)
			}
		}
	})

	t.Run("bad culture rejects", func(t *testing.T) {
		p, _ := newTestPayment(t, nil)
		params := url.Values{
			"OutSum":         {"150"},
			"InvId":          {"123"},
			"Culture":        {"de"},
			"SignatureValue": {"0109ea77984a645bf105f563abee3fe2"},
		}
		ok, err := p.ValidateResult(ctx, params, false)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("ValidateResult() accepted an invalid Culture")
		}
	})
}

func TestValidateResultStrict(t *testing.T) {
	ctx := context.Background()
	params := url.Values{
		"OutSum":         {"150"},
		"InvId":          {"123"},
		"SignatureValue": {"0109ea77984a645bf105f563abee3fe2"},
	}

	t.Run("completed invoice", func(t *testing.T) {
		p, _ := newTestPayment(t, map[string]string{"OpState": opStateCompletedXML})
		ok, err := p.ValidateResult(ctx, params, true)
		if err != nil {
			t.Fatalf("ValidateResult() error: %v", err)
		}
		if !ok {
			t.Fatal("ValidateResult() = false, want true")
		}
		// settled amounts are adopted from the gateway
		if p.PaymentMethod() != "WMRM" {
			t.Errorf("payment method = %q, want WMRM", p.PaymentMethod())
		}
		clientSum, err := p.ClientSum(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if want := decimal.RequireFromString("157.37"); !clientSum.Equal(want) {
			t.Errorf("client sum = %s, want %s", clientSum, want)
		}
	})

	t.Run("invoice still processing", func(t *testing.T) {
		p, _ := newTestPayment(t, map[string]string{"OpState": opStateProcessingXML})
		ok, err := p.ValidateResult(ctx, params, true)
		if err != nil {
			t.Fatalf("ValidateResult() error: %v", err)
		}
		if ok {
			t.Fatal("ValidateResult() accepted an incomplete invoice")
		}
	})

	t.Run("invoice not found", func(t *testing.T) {
		p, _ := newTestPayment(t, map[string]string{"OpState": notFoundXML})
		ok, err := p.ValidateResult(ctx, params, true)
		if err != nil {
			t.Fatalf("ValidateResult() error: %v", err)
		}
		if ok {
			t.Fatal("ValidateResult() accepted an unknown invoice")
		}
	})

	t.Run("transport failure surfaces", func(t *testing.T) {
		p, gateway := newTestPayment(t, map[string]string{"OpState": opStateCompletedXML})
		gateway.server.Close()
		_, err := p.ValidateResult(ctx, params, true)
		if err == nil {
			t.Fatal("ValidateResult() did not surface the transport error")
		}
	})
}

func TestValidateSuccess(t *testing.T) {
	p, _ := newTestPayment(t, nil)
	// signed with the payment password
	params := url.Values{
		"OutSum":         {"150"},
		"InvId":          {"123"},
		"SignatureValue": {"4e35da41d5de8cb6182b956015e13fe5"},
	}
	ok, err := p.ValidateSuccess(context.Background(), params, false)
	if err != nil {
		t.Fatalf("ValidateSuccess() error: %v", err)
	}
	if !ok {
		t.Fatal("ValidateSuccess() = false, want true")
	}
}

func TestPaymentSetters(t *testing.T) {
	p, _ := newTestPayment(t, nil)

	if err := p.SetSum(decimal.NewFromInt(-5)); !errors.Is(err, ErrInvalidSum) {
		t.Errorf("SetSum(-5) error = %v, want ErrInvalidSum", err)
	}
	if err := p.SetSum(decimal.Zero); !errors.Is(err, ErrInvalidSum) {
		t.Errorf("SetSum(0) error = %v, want ErrInvalidSum", err)
	}
	if err := p.SetSum(decimal.RequireFromString("10.999")); err != nil {
		t.Fatal(err)
	}
	if want := decimal.RequireFromString("11.00"); !p.Sum().Equal(want) {
		t.Errorf("Sum() = %s, want %s after rounding", p.Sum(), want)
	}

	if err := p.SetInvoiceID(-1); !errors.Is(err, ErrInvalidInvoiceID) {
		t.Errorf("SetInvoiceID(-1) error = %v, want ErrInvalidInvoiceID", err)
	}
	if err := p.SetPreviousInvoiceID(-1); !errors.Is(err, ErrInvalidInvoiceID) {
		t.Errorf("SetPreviousInvoiceID(-1) error = %v, want ErrInvalidInvoiceID", err)
	}

	if err := p.SetExpirationDateString("not a date", ""); !errors.Is(err, ErrInvalidExpirationDate) {
		t.Errorf("SetExpirationDateString error = %v, want ErrInvalidExpirationDate", err)
	}
	if err := p.SetExpirationDateString("2026-09-01T12:30:00+03:00", ""); err != nil {
		t.Fatal(err)
	}
	if p.ExpirationDate().IsZero() {
		t.Error("expiration date not set")
	}

	p.SetCustomParam("user", "56")
	if !p.HasCustomParam("user") {
		t.Error("HasCustomParam(user) = false")
	}
	p.RemoveCustomParam("user")
	if p.HasCustomParam("user") {
		t.Error("RemoveCustomParam did not remove the parameter")
	}

	got := p.CustomParams()
	got["injected"] = "x"
	if p.HasCustomParam("injected") {
		t.Error("CustomParams() leaked the internal map")
	}
}

func TestApplyStopsOnError(t *testing.T) {
	p, _ := newTestPayment(t, nil)
	err := p.Apply(Options{
		Description: "order",
		Culture:     "de",
	})
	if !errors.Is(err, ErrInvalidCulture) {
		t.Fatalf("Apply() error = %v, want ErrInvalidCulture", err)
	}
	if p.Description() != "order" {
		t.Errorf("fields applied before the failure were lost: description = %q", p.Description())
	}
}
