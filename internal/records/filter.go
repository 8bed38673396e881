package records

import (
	"regexp"
	"strings"
)

// ByAddress matches records deployed at address.
func ByAddress(address string) Filter {
	address = strings.ToLower(address)
	return func(c *Contract) bool { return c.Info.Address == address }
}

// ByCompiler matches records built with the exact compiler version.
func ByCompiler(compiler string) Filter {
	return func(c *Contract) bool { return c.Info.Compiler == compiler }
}

// ByID matches a record by its {address}-{chainId} id.
func ByID(id string) Filter {
	id = strings.ToLower(id)
	return func(c *Contract) bool { return c.ID == id }
}

// ByName matches records by contract name.
func ByName(name string) Filter {
	return func(c *Contract) bool { return c.Info.Name == name }
}

// ByTxID matches records created by txid.
func ByTxID(txid string) Filter {
	txid = strings.ToLower(txid)
	return func(c *Contract) bool { return c.Info.TxID == txid }
}

// ByIDs matches records whose id is in the set.
func ByIDs(ids map[string]bool) Filter {
	return func(c *Contract) bool { return ids[c.ID] }
}

// All matches records accepted by every non-nil filter.
func All(filters ...Filter) Filter {
	var active []Filter
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return func(c *Contract) bool {
		for _, f := range active {
			if !f(c) {
				return false
			}
		}
		return true
	}
}

var recordPath = regexp.MustCompile(`^contracts/(0x[a-f0-9]{40}-\d+)`)

// IDsFromPaths extracts record ids from repository-relative paths such as
// contracts/0xabc...-1/src/Token.sol.
func IDsFromPaths(paths []string) map[string]bool {
	ids := make(map[string]bool)
	for _, p := range paths {
		if m := recordPath.FindStringSubmatch(strings.TrimSpace(p)); m != nil {
			ids[m[1]] = true
		}
	}
	return ids
}
