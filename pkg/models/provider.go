package models

import "encoding/hex"

// Flag bits packed into the providers.flags bitmask.
const (
	FlagCheckSign       uint64 = 1
	FlagCheckToken      uint64 = 2
	FlagManageProviders uint64 = 4
)

// Flags is the closed set of named provider capabilities.
type Flags struct {
	CheckSign       bool `json:"check_sign"`
	CheckToken      bool `json:"check_token"`
	ManageProviders bool `json:"manage_providers"`
}

// Sum packs the named flags into one bitmask.
func (f Flags) Sum() uint64 {
	var sum uint64
	if f.CheckSign {
		sum |= FlagCheckSign
	}
	if f.CheckToken {
		sum |= FlagCheckToken
	}
	if f.ManageProviders {
		sum |= FlagManageProviders
	}
	return sum
}

// ParseFlags decodes the named bits from a bitmask. Unknown bits are ignored.
func ParseFlags(bits uint64) Flags {
	return Flags{
		CheckSign:       bits&FlagCheckSign != 0,
		CheckToken:      bits&FlagCheckToken != 0,
		ManageProviders: bits&FlagManageProviders != 0,
	}
}

// Provider is a row in the registry store.
type Provider struct {
	ID        int64
	Name      string
	Flags     uint64
	SecretRef int64
}

// ProviderSecret is a row in the secret store. The crypto pair never leaves
// the process; the sign pair is shown to the operator on create/destroy only.
type ProviderSecret struct {
	ID        int64
	SignIV    []byte
	SignKey   []byte
	CryptoIV  []byte
	CryptoKey []byte
}

// RawProvider merges both rows for internal use (request authentication,
// license encryption). It must never be serialized to a caller as-is.
type RawProvider struct {
	ID        int64
	Name      string
	Flags     Flags
	SecretRef int64
	SignIV    []byte
	SignKey   []byte
	CryptoIV  []byte
	CryptoKey []byte
}

// ProviderView is the public shape of a provider. CryptoIV/CryptoKey are
// deliberately absent.
type ProviderView struct {
	Name    string `json:"name"`
	Flags   Flags  `json:"flags"`
	SignIV  string `json:"sign_iv,omitempty"`
	SignKey string `json:"sign_key,omitempty"`
}

// View strips the raw provider down to its public shape.
func (p *RawProvider) View() *ProviderView {
	v := &ProviderView{
		Name:  p.Name,
		Flags: p.Flags,
	}
	if len(p.SignIV) > 0 {
		v.SignIV = hex.EncodeToString(p.SignIV)
	}
	if len(p.SignKey) > 0 {
		v.SignKey = hex.EncodeToString(p.SignKey)
	}
	return v
}
