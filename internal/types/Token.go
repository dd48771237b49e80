/*

Token describes an asset handled by the ledger: the staked asset and the reward asset.

*/

package types

type Token struct {
	Symbol   string `json:"symbol"`   // e.g., "lp"
	Denom    string `json:"denom"`    // e.g., "ulp"
	Decimals uint32 `json:"decimals"` // e.g., 6 means 1000000 base units = 1 token
}
