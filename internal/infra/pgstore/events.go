package pgstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/jackc/pgx/v5"
)

const (
	eventEntryPosted   = "ENTRY_POSTED"
	eventAccountOpened = "ACCOUNT_OPENED"

	aggregateAccount = "ACCOUNT"
)

// canonicalPayload returns the JSON payload, its RFC 8785 canonical form and
// the hex sha256 of the canonical form.
func canonicalPayload(v any) (raw json.RawMessage, canonical, digest string, err error) {
	raw, err = json.Marshal(v)
	if err != nil {
		return nil, "", "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", "", err
	}
	sum := sha256.Sum256(canon)
	return raw, string(canon), hex.EncodeToString(sum[:]), nil
}

// insertEvent is the single entry point for ledger_event_log inserts.
func insertEvent(ctx context.Context, tx pgx.Tx, eventType, aggregateID string, payload any) error {
	raw, canonical, digest, err := canonicalPayload(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_event_log(
			event_id, event_type, aggregate_type, aggregate_id, payload_json, payload_canonical, payload_sha256
		) VALUES($1,$2,$3,$4,$5::jsonb,$6,$7)`,
		uuid.New(), eventType, aggregateAccount, aggregateID, raw, canonical, digest,
	)
	return err
}

type entryPostedPayload struct {
	EntryID      string `json:"entry_id"`
	AccountID    string `json:"account_id"`
	Reference    string `json:"reference"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Commission   string `json:"commission"`
	BalanceAfter string `json:"balance_after"`
	Version      int64  `json:"version"`
}

type accountOpenedPayload struct {
	AccountID  string `json:"account_id"`
	CustomerID string `json:"customer_id"`
	IBAN       string `json:"iban"`
	Currency   string `json:"currency"`
	Opening    string `json:"opening_balance"`
}
