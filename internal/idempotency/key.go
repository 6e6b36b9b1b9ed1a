// Package idempotency derives stable keys for provider operations so that a
// retried or duplicated request can be deduplicated by the upstream.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"payments/internal/domain"
)

const keyPrefix = "idem_"

// chargeFingerprint is the canonical form of a charge request. Field order is
// fixed by the struct and encoding/json sorts map keys, so equal requests
// always encode to the same bytes.
type chargeFingerprint struct {
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	CustomerID      string            `json:"customer_id"`
	PaymentMethodID string            `json:"payment_method_id"`
	Capture         bool              `json:"capture"`
	Description     string            `json:"description"`
	Metadata        map[string]string `json:"metadata"`
}

// ChargeKey derives a key from the semantic content of a charge request.
// The caller-supplied key field does not take part in the hash.
func ChargeKey(p domain.ChargeParams) string {
	fp := chargeFingerprint{
		Amount:          p.Amount.Amount,
		Currency:        strings.ToUpper(string(p.Amount.Currency)),
		CustomerID:      p.CustomerID,
		PaymentMethodID: p.PaymentMethodID,
		Capture:         p.Capture,
		Description:     p.Description,
		Metadata:        p.Metadata,
	}
	if len(fp.Metadata) == 0 {
		fp.Metadata = nil
	}

	// Marshalling a struct of strings, ints and a string map cannot fail.
	b, _ := json.Marshal(fp)
	return hash("charge", b)
}

// ResolveCharge returns the caller's key when present, otherwise the derived one.
func ResolveCharge(p domain.ChargeParams) string {
	if p.IdempotencyKey != "" {
		return p.IdempotencyKey
	}
	return ChargeKey(p)
}

// OperationKey derives a key for a non-charge mutation from its operation
// name and identifying parts, e.g. OperationKey("capture", txID, "500").
func OperationKey(op string, parts ...string) string {
	b, _ := json.Marshal(parts)
	return hash(op, b)
}

// Resolve returns explicit when set, otherwise OperationKey(op, parts...).
func Resolve(explicit, op string, parts ...string) string {
	if explicit != "" {
		return explicit
	}
	return OperationKey(op, parts...)
}

// ResolveUnique returns explicit when set, otherwise a fresh key for op.
// It is for operations a caller may legitimately repeat with identical
// parameters (a second partial refund, a second customer with the same
// email), where a content-derived key would turn the repeat into a replay.
// Resolve it once per call, outside any retry loop, so retries share it.
func ResolveUnique(explicit, op string) string {
	if explicit != "" {
		return explicit
	}
	return OperationKey(op, uuid.NewString())
}

func hash(scope string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write(payload)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}
