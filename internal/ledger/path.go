package ledger

import "fmt"

// Account selects which device key pair a session binds to.
type Account struct {
	Number   uint32
	Index    uint32
	Internal bool
}

// Path returns the derivation path for a.
func (a Account) Path() string {
	return BuildPath(a.Number, a.Index, a.Internal)
}

// BuildPath derives the SEP-0005 style path 44'/148'/account'[/chain'][/index'].
// The chain segment appears when index is nonzero or internal is set.
func BuildPath(account, index uint32, internal bool) string {
	path := fmt.Sprintf("44'/148'/%d'", account)
	if index != 0 || internal {
		if internal {
			path += "/1'"
		} else {
			path += "/0'"
		}
	}
	if index != 0 {
		path += fmt.Sprintf("/%d'", index)
	}
	return path
}
