package models

// License is a row in the registry store's licenses table. The value is a
// 16-byte AES-256-CBC ciphertext of 8 random bytes; the composite key is
// immutable once written.
type License struct {
	ProviderID int64
	ContentID  int64
	SequenceID int64
	Ciphertext []byte
}

// LicenseView is the create-response shape. License carries the hex of the
// unencrypted material; the ciphertext is never returned.
type LicenseView struct {
	ProviderID int64  `json:"provider_id"`
	ContentID  int64  `json:"content_id"`
	SequenceID int64  `json:"sequence_id"`
	License    string `json:"license"`
}

// Token is a consumed entry in the anti-replay ledger. The presence of a row
// means the payload has already been used.
type Token struct {
	Payload string
	Exp     int64
}
