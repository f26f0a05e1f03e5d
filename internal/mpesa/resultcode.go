package mpesa

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tbourn/go-mpesa-checkout/internal/domain"
)

// Result codes with special meaning.
const (
	CodeSuccess    ResultCode = "0"
	CodeCancelled  ResultCode = "1032" // payer dismissed the prompt
	CodeProcessing ResultCode = "1037" // payer unreachable / still waiting
)

// ResultCode is a gateway result code. Daraja sends it as a JSON number in
// callbacks and as a string in query responses; both decode to the same text.
type ResultCode string

// UnmarshalJSON accepts a string, a number, or null.
func (r *ResultCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ResultCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = ResultCode(n.String())
	return nil
}

func (r ResultCode) String() string { return string(r) }

// Ptr returns nil for an empty code, for nullable columns.
func (r ResultCode) Ptr() *string { return domain.StringPtr(string(r)) }

// CallbackStatus classifies a callback result: 0 is success, 1032 is
// cancelled, everything else failed.
func CallbackStatus(code ResultCode) domain.TransactionStatus {
	switch code {
	case CodeSuccess:
		return domain.StatusSuccess
	case CodeCancelled:
		return domain.StatusCancelled
	default:
		return domain.StatusFailed
	}
}

// QueryStatus classifies a status-query result. 1037 keeps the transaction
// pending; the payer may still complete it.
func QueryStatus(code ResultCode) domain.TransactionStatus {
	if code == CodeProcessing {
		return domain.StatusPending
	}
	return CallbackStatus(code)
}
