package mpesa

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// CallbackEnvelope is the body Daraja POSTs to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback is the outcome of one STK push.
type STKCallback struct {
	MerchantRequestID string     `json:"MerchantRequestID"`
	CheckoutRequestID string     `json:"CheckoutRequestID"`
	ResultCode        ResultCode `json:"ResultCode"`
	ResultDesc        string     `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []CallbackItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

// CallbackItem is a Name/Value pair of callback metadata. Value may be a
// number, a string, or absent.
type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// ParseCallback decodes raw into an STKCallback.
func ParseCallback(raw []byte) (STKCallback, error) {
	var env CallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return STKCallback{}, err
	}
	cb := env.Body.STKCallback
	cb.CheckoutRequestID = strings.TrimSpace(cb.CheckoutRequestID)
	cb.MerchantRequestID = strings.TrimSpace(cb.MerchantRequestID)
	return cb, nil
}

// Items indexes callback metadata by case-folded name. The first occurrence
// of a name wins.
type Items map[string]json.RawMessage

// Items returns the metadata lookup; empty when the callback carried none.
func (cb STKCallback) Items() Items {
	out := Items{}
	if cb.CallbackMetadata == nil {
		return out
	}
	fold := cases.Fold()
	for _, it := range cb.CallbackMetadata.Item {
		k := fold.String(strings.TrimSpace(it.Name))
		if _, seen := out[k]; seen || len(it.Value) == 0 {
			continue
		}
		out[k] = it.Value
	}
	return out
}

func (it Items) raw(name string) (json.RawMessage, bool) {
	v, ok := it[cases.Fold().String(name)]
	if !ok {
		return nil, false
	}
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return nil, false
	}
	return v, true
}

// String returns the value as text. Numbers keep their literal form so large
// MSISDNs are not rounded through float64.
func (it Items) String(name string) (string, bool) {
	v, ok := it.raw(name)
	if !ok {
		return "", false
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

// Int64 returns the value as an integer, rounding fractional amounts.
func (it Items) Int64(name string) (int64, bool) {
	s, ok := it.String(name)
	if !ok {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// Time parses a 14-digit YYYYMMDDHHMMSS value as UTC.
func (it Items) Time(name string) (time.Time, bool) {
	s, ok := it.String(name)
	if !ok {
		return time.Time{}, false
	}
	return ParseTransactionDate(s)
}

// ParseTransactionDate parses the gateway's compact timestamp. Anything that
// is not exactly 14 digits is rejected.
func ParseTransactionDate(s string) (time.Time, bool) {
	if len(s) != 14 {
		return time.Time{}, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}
	t, err := time.ParseInLocation(timestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CallbackDetails are the fields a successful callback carries.
type CallbackDetails struct {
	Amount          int64 // 0 when absent
	Receipt         string
	TransactionDate *time.Time
	Phone           string
}

// Details extracts Amount, MpesaReceiptNumber, TransactionDate and PhoneNumber.
func (cb STKCallback) Details() CallbackDetails {
	items := cb.Items()
	var d CallbackDetails
	if n, ok := items.Int64("Amount"); ok && n > 0 {
		d.Amount = n
	}
	d.Receipt, _ = items.String("MpesaReceiptNumber")
	if t, ok := items.Time("TransactionDate"); ok {
		d.TransactionDate = &t
	}
	d.Phone, _ = items.String("PhoneNumber")
	return d
}
