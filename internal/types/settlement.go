package types

import "github.com/shopspring/decimal"

// SettlementRequest carries the order fields covered by the Stark
// settlement signature.
type SettlementRequest struct {
	Market            string          `json:"market"`
	Side              Side            `json:"side"`
	SyntheticAmount   decimal.Decimal `json:"syntheticAmount"`
	CollateralAmount  decimal.Decimal `json:"collateralAmount"`
	Fee               decimal.Decimal `json:"fee"`
	Nonce             uint32          `json:"nonce"`
	ExpiryEpochMillis int64           `json:"expiryEpochMillis"`
	Vault             int64           `json:"vault"`
	PublicKey         string          `json:"publicKey"`
	Network           string          `json:"network"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
}
