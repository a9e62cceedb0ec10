package domain

import (
	"strconv"

	"github.com/shopspring/decimal"
)

func init() {
	// Money is rendered as JSON numbers on every wire format.
	decimal.MarshalJSONWithoutQuotes = true
}

func itoa(i int) string { return strconv.Itoa(i) }
