package models

import "strings"

// Broker identifies the exchange integration behind a BrokerAccount.
type Broker string

const (
	BrokerBinanceFutures    Broker = "binance-futures"
	BrokerBybitFutures      Broker = "bybit-futures"
	BrokerBinanceFuturesCSV Broker = "binance-futures-csv"
	BrokerBybitFuturesCSV   Broker = "bybit-futures-csv"
)

// ParseBroker validates a broker name.
func ParseBroker(s string) (Broker, bool) {
	switch b := Broker(s); b {
	case BrokerBinanceFutures, BrokerBybitFutures, BrokerBinanceFuturesCSV, BrokerBybitFuturesCSV:
		return b, true
	}
	return "", false
}

// IsCSV reports whether the broker is fed only by file imports.
func (b Broker) IsCSV() bool {
	return b == BrokerBinanceFuturesCSV || b == BrokerBybitFuturesCSV
}

// CSVVariant returns the file-import broker for an exchange broker.
func (b Broker) CSVVariant() Broker {
	switch b {
	case BrokerBinanceFutures, BrokerBinanceFuturesCSV:
		return BrokerBinanceFuturesCSV
	case BrokerBybitFutures, BrokerBybitFuturesCSV:
		return BrokerBybitFuturesCSV
	}
	return ""
}

// LedgerBrokers lists the brokers whose rows are shown under b: an exchange
// broker includes its CSV variant.
func (b Broker) LedgerBrokers() []Broker {
	if v := b.CSVVariant(); v != "" && v != b {
		return []Broker{b, v}
	}
	return []Broker{b}
}

// DefaultLabel is the account label used when the caller gives none.
func (b Broker) DefaultLabel() string {
	switch b {
	case BrokerBinanceFutures:
		return "Binance Futures"
	case BrokerBybitFutures:
		return "Bybit Futures"
	case BrokerBinanceFuturesCSV:
		return "Binance Futures (CSV)"
	case BrokerBybitFuturesCSV:
		return "Bybit Futures (CSV)"
	}
	return string(b)
}

// Side is the direction of a fill or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide maps an exchange or CSV side value: anything beginning with BUY
// or LONG, case-insensitively, is a buy; everything else is a sell.
func ParseSide(raw string) Side {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if strings.HasPrefix(s, "BUY") || strings.HasPrefix(s, "LONG") {
		return SideBuy
	}
	return SideSell
}
