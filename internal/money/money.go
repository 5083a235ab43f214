// Package money centralizes decimal-preserving arithmetic for cash, prices, and costs.
// Money fields are decimal-preserving at the store boundary and serialize as plain JSON
// numbers in webhook payloads (spec §9): package webhook sets decimal.MarshalJSONWithoutQuotes
// so decimal.Decimal's MarshalJSON emits numbers instead of its default quoted strings.
package money

import "github.com/shopspring/decimal"

// WeightedAverage computes the new weighted-average cost after adding qty units at price,
// given an existing position of prevQty units at prevAvg cost. Used for Holding.averageCost
// (spec §3: "recomputed as a weighted average across additive buys").
func WeightedAverage(prevQty, prevAvg, qty, price decimal.Decimal) decimal.Decimal {
	if prevQty.IsZero() {
		return price
	}
	totalCost := prevAvg.Mul(prevQty).Add(price.Mul(qty))
	totalQty := prevQty.Add(qty)
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalCost.Div(totalQty)
}

// NetWorth computes cash + sum(quantity * currentPrice) across positions.
func NetWorth(cash decimal.Decimal, positions map[string]decimal.Decimal, prices map[string]decimal.Decimal) decimal.Decimal {
	total := cash
	for symbol, qty := range positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		total = total.Add(qty.Mul(price))
	}
	return total
}

// MarginAvailable computes marginLimit - marginUsed, floored at zero.
func MarginAvailable(limit, used decimal.Decimal) decimal.Decimal {
	avail := limit.Sub(used)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// UnrealizedPnL computes (currentPrice - averageCost) * quantity.
func UnrealizedPnL(quantity, averageCost, currentPrice decimal.Decimal) decimal.Decimal {
	return currentPrice.Sub(averageCost).Mul(quantity)
}

// UnrealizedPnLPercent computes UnrealizedPnL as a percentage of cost basis; returns zero
// when cost basis is zero to avoid a division panic.
func UnrealizedPnLPercent(quantity, averageCost, currentPrice decimal.Decimal) decimal.Decimal {
	costBasis := averageCost.Mul(quantity).Abs()
	if costBasis.IsZero() {
		return decimal.Zero
	}
	return UnrealizedPnL(quantity, averageCost, currentPrice).Div(costBasis).Mul(decimal.NewFromInt(100))
}
