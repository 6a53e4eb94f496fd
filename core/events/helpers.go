package events

import (
	"math/big"
	"strconv"
)

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func formatHeight(height uint64) string {
	return strconv.FormatUint(height, 10)
}
