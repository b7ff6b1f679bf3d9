package csvimport

// Candidate header names per canonical field, tried in order. Matching is
// case-insensitive and ignores surrounding whitespace.
var (
	symbolColumns = []string{"Symbol", "Pair", "Contract", "Market"}
	sideColumns   = []string{"Side", "Direction", "Position Side", "Order Side"}

	execQtyColumns   = []string{"Executed Qty", "Quantity", "Qty", "Amount", "Filled Qty", "Exec Qty", "Size"}
	execPriceColumns = []string{"Price", "Avg Price", "Average Price", "Exec Price", "Filled Price"}
	execFeeColumns   = []string{"Fee", "Commission", "Trading Fee", "Exec Fee", "Fees"}
	execPnlColumns   = []string{"Realized Profit", "Realized PnL", "RealizedProfit", "Closed PNL"}
	execTimeColumns  = []string{"Date(UTC)", "Update Time(UTC)", "Time", "Created Time", "Date", "Exec Time", "Trade Time", "Transaction Time"}

	tradeQtyColumns   = []string{"Size", "Qty", "Quantity", "Executed Qty", "Realized Size", "Amount", "Position Size", "Closed Size"}
	tradeEntryColumns = []string{"Entry Price", "Open Price", "Avg Entry Price", "Average Entry Price"}
	tradeExitColumns  = []string{"Exit Price", "Close Price", "Avg Close Price", "Average Close Price", "Avg Exit Price", "Price"}
	tradeOpenColumns  = []string{"Open Time", "Entry Time", "Created Time", "Start Time"}
	tradeCloseColumns = []string{"Close Time", "Exit Time", "Date(UTC)", "Update Time(UTC)", "Time", "Updated Time"}
	tradePnlColumns   = []string{"Realized PnL", "Realized PNL", "Realized P&L", "RealizedProfit", "Closed PNL (USDT)", "Closed PNL", "PNL"}
	tradeFeeColumns   = []string{"Fee", "Commission", "Trading Fee", "Fees"}
)
