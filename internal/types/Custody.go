/*

Custody types describe token accounts and the transfers the ledger asks custody to execute.

*/

package types

import (
	"fmt"
	"strings"

	sdk "github.com/cosmos/cosmos-sdk/types"
)

// AccountID identifies a token account as "<bech32 owner>/<denom>".
type AccountID string

func NewAccountID(owner sdk.AccAddress, denom string) AccountID {
	return AccountID(owner.String() + "/" + denom)
}

// Parse splits the id into its owner and denom.
func (id AccountID) Parse() (sdk.AccAddress, string, error) {
	raw := string(id)
	sep := strings.LastIndex(raw, "/")
	if sep <= 0 || sep == len(raw)-1 {
		return nil, "", fmt.Errorf("malformed account id %q", raw)
	}
	owner, err := sdk.AccAddressFromBech32(raw[:sep])
	if err != nil {
		return nil, "", fmt.Errorf("account id %q: %w", raw, err)
	}
	return owner, raw[sep+1:], nil
}

type TokenAccount struct {
	ID      AccountID      `json:"id"`
	Owner   sdk.AccAddress `json:"owner"`
	Denom   string         `json:"denom"`
	Balance uint64         `json:"balance"`
}

type Transfer struct {
	From         AccountID      `json:"from"`
	To           AccountID      `json:"to"`
	Amount       uint64         `json:"amount"`
	AuthorizedBy sdk.AccAddress `json:"authorized_by"`
	Role         Role           `json:"role,omitempty"`
}

// NullIdentityLength is the byte length of the burn identity.
const NullIdentityLength = 20

// NullIdentity returns the all-zero address that burn sinks must be owned by.
func NullIdentity() sdk.AccAddress {
	return sdk.AccAddress(make([]byte, NullIdentityLength))
}

// IsNullIdentity reports whether addr is the all-zero burn identity.
func IsNullIdentity(addr sdk.AccAddress) bool {
	if len(addr) != NullIdentityLength {
		return false
	}
	for _, b := range addr {
		if b != 0 {
			return false
		}
	}
	return true
}
