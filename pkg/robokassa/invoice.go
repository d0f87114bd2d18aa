package robokassa

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice state codes as reported by the OpState operation.
const (
	StateNew        = 0
	StateInitiated  = 5
	StateCanceled   = 10
	StateProcessing = 50
	StateReturned   = 60
	StateSuspended  = 80
	StateCompleted  = 100
)

var stateDescriptions = map[string]map[int]string{
	CultureEN: {
		StateNew:        "Invoice is registered, payment has not been started.",
		StateInitiated:  "Initiated, payment is not received by the service.",
		StateCanceled:   "Payment was not received, operation canceled.",
		StateProcessing: "Payment received, payment is transferred to the shop account.",
		StateReturned:   "Payment was returned to buyer after it was received.",
		StateSuspended:  "Operation execution is suspended.",
		StateCompleted:  "Operation completed successfully.",
	},
	CultureRU: {
		StateNew:        "Счёт зарегистрирован, оплата не начата.",
		StateInitiated:  "Операция только инициализирована, деньги от покупателя не получены.",
		StateCanceled:   "Операция отменена, деньги от покупателя не были получены.",
		StateProcessing: "Деньги от покупателя получены, производится зачисление денег на счет магазина.",
		StateReturned:   "Деньги после получения были возвращены покупателю.",
		StateSuspended:  "Исполнение операции приостановлено.",
		StateCompleted:  "Операция выполнена, завершена успешно.",
	},
}

// Invoice is the gateway's record of a single payment attempt, produced by
// Client.GetInvoice. It is read-only.
type Invoice struct {
	invoiceID                int64
	culture                  string
	stateCode                int
	requestDate              time.Time
	stateDate                time.Time
	clientSum                decimal.Decimal
	clientAccount            string
	paymentMethod            string
	paymentMethodCode        string
	paymentMethodDescription string
	currency                 string
	shopSum                  decimal.Decimal
}

// InvoiceID returns the invoice identifier the lookup was made for.
func (i *Invoice) InvoiceID() int64 { return i.invoiceID }

// Culture returns the language the lookup was made with.
func (i *Invoice) Culture() string { return i.culture }

// StateCode returns the operation state code (StateNew..StateCompleted).
func (i *Invoice) StateCode() int { return i.stateCode }

// StateDescription returns the localized description of the current state,
// or an empty string for an unknown state or culture.
func (i *Invoice) StateDescription() string {
	return stateDescriptions[i.culture][i.stateCode]
}

// RequestDate returns the time of the state request response.
func (i *Invoice) RequestDate() time.Time { return i.requestDate }

// StateDate returns the time of the last state change.
func (i *Invoice) StateDate() time.Time { return i.stateDate }

// ClientSum returns the amount paid by the buyer, in units of the payment
// method's currency.
func (i *Invoice) ClientSum() decimal.Decimal { return i.clientSum }

// ClientAccount returns the buyer's account (wallet, masked card number)
// in the payment system used.
func (i *Invoice) ClientAccount() string { return i.clientAccount }

// PaymentMethod returns the payment method label the buyer chose.
func (i *Invoice) PaymentMethod() string { return i.paymentMethod }

// PaymentMethodCode returns the payment method code.
func (i *Invoice) PaymentMethodCode() string { return i.paymentMethodCode }

// PaymentMethodDescription returns the payment method description.
func (i *Invoice) PaymentMethodDescription() string { return i.paymentMethodDescription }

// Currency returns the currency credited to the shop.
func (i *Invoice) Currency() string { return i.currency }

// ShopSum returns the amount credited to the shop account.
func (i *Invoice) ShopSum() decimal.Decimal { return i.shopSum }

func newInvoice(invoiceID int64, culture string, resp *opStateResponse) *Invoice {
	return &Invoice{
		invoiceID:                invoiceID,
		culture:                  culture,
		stateCode:                resp.State.Code,
		requestDate:              resp.State.RequestDate,
		stateDate:                resp.State.StateDate,
		clientSum:                resp.Info.IncSum,
		clientAccount:            resp.Info.IncAccount,
		paymentMethod:            resp.Info.IncCurrLabel,
		paymentMethodCode:        resp.Info.PaymentMethod.Code,
		paymentMethodDescription: resp.Info.PaymentMethod.Description,
		currency:                 resp.Info.OutCurrLabel,
		shopSum:                  resp.Info.OutSum,
	}
}
