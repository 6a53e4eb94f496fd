package token

import (
	"math/big"

	"chatten/core/types"
)

// state abstracts the subset of state manager functionality required by the
// ledger engine. Absence of a key always reads as zero.
type state interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	balancePrefix  = []byte("compute/balance/")
	supplyPrefix   = []byte("compute/supply/")
	totalSupplyKey = []byte("compute/supply/total")
	accountPrefix  = []byte("compute/tokens/")
	approvalPrefix = []byte("compute/approval/")
	classPrefix    = []byte("compute/class/")
	classIndexKey  = []byte("compute/class/index")
)

func balanceKey(owner types.Address, class types.ClassID) []byte {
	key := make([]byte, 0, len(balancePrefix)+len(owner)+len(class))
	key = append(key, balancePrefix...)
	key = append(key, owner[:]...)
	key = append(key, class[:]...)
	return key
}

func supplyKey(class types.ClassID) []byte {
	key := make([]byte, 0, len(supplyPrefix)+len(class))
	key = append(key, supplyPrefix...)
	key = append(key, class[:]...)
	return key
}

func accountIndexKey(owner types.Address) []byte {
	key := make([]byte, 0, len(accountPrefix)+len(owner))
	key = append(key, accountPrefix...)
	key = append(key, owner[:]...)
	return key
}

func approvalKey(owner types.Address, class types.ClassID, spender types.Address) []byte {
	key := make([]byte, 0, len(approvalPrefix)+len(owner)+len(class)+len(spender))
	key = append(key, approvalPrefix...)
	key = append(key, owner[:]...)
	key = append(key, class[:]...)
	key = append(key, spender[:]...)
	return key
}

func classKey(class types.ClassID) []byte {
	key := make([]byte, 0, len(classPrefix)+len(class))
	key = append(key, classPrefix...)
	key = append(key, class[:]...)
	return key
}

func (e *Engine) readAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := e.state.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// writeAmount enforces the sparse-storage invariant: zero values are deleted,
// never stored.
func (e *Engine) writeAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return e.state.KVDelete(key)
	}
	return e.state.KVPut(key, amount)
}
