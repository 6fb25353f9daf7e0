package notify

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

// payloadType is the event type receivers switch on.
const payloadType = "deposit_confirmed"

// serviceName identifies this producer inside decorated payloads.
const serviceName = "evm_transfer_monitor"

// Payload is the webhook body announcing a confirmed deposit. It is built
// once when the notification is created and stored as the outbox row's
// request data, so retries resend exactly what was first composed.
type Payload struct {
	Type          string `json:"type"`
	TxHash        string `json:"tx_hash"`
	FromAddress   string `json:"from_address"`
	ToAddress     string `json:"to_address"`
	Amount        string `json:"amount"`
	TokenSymbol   string `json:"token_symbol"`
	TokenAddress  string `json:"token_address,omitempty"`
	Confirmations int    `json:"confirmations"`
	BlockNumber   uint64 `json:"block_number"`
	UserID        string `json:"user_id"`
	Timestamp     string `json:"timestamp"`
}

// BuildRequestData renders the outbox payload for a confirmed deposit.
// Amounts read back from NUMERIC columns carry scale padding and are
// canonicalized before they leave the process.
func BuildRequestData(dep *types.DepositRecord, now time.Time) (string, error) {
	p := Payload{
		Type:          payloadType,
		TxHash:        dep.TxHash,
		FromAddress:   dep.FromAddress,
		ToAddress:     dep.ToAddress,
		Amount:        types.CanonicalDecimal(dep.Amount),
		TokenSymbol:   dep.TokenSymbol,
		TokenAddress:  dep.TokenAddress,
		Confirmations: dep.Confirmations,
		BlockNumber:   dep.BlockNumber,
		UserID:        dep.UserID,
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "could not encode notification payload")
	}
	return string(b), nil
}

// decorate stamps per-attempt metadata onto the stored payload without
// disturbing the fields composed at creation time.
func decorate(requestData string, attempt int, now time.Time) ([]byte, error) {
	body := make(map[string]interface{})
	if err := json.Unmarshal([]byte(requestData), &body); err != nil {
		return nil, errors.Wrap(err, "stored payload is not valid JSON")
	}
	body["sent_at"] = now.UTC().Format(time.RFC3339)
	body["attempt"] = attempt
	body["service"] = serviceName
	return json.Marshal(body)
}
