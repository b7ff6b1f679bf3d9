// Package analytics derives dashboard KPIs, the equity curve and the PnL
// calendar from stored trades and executions.
package analytics

import (
	"math"
	"sort"
	"strings"
	"time"

	"tradepulse/internal/errs"
	"tradepulse/internal/models"

	"github.com/shopspring/decimal"
)

// StartBalance anchors the equity curve.
const StartBalance = 10_000

const (
	allPoints    = 180
	recentEvents = 50
)

// Range selects the period a summary covers.
type Range string

const (
	Range7d  Range = "7d"
	Range30d Range = "30d"
	RangeYTD Range = "ytd"
	RangeAll Range = "all"
)

// ParseRange validates a range value; empty means 30d.
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return Range30d, nil
	case Range7d, Range30d, RangeYTD, RangeAll:
		return r, nil
	}
	return "", errs.New(errs.KindInvalid, errs.WithMessage("range must be one of 7d, 30d, ytd, all"))
}

// ParseZone loads an IANA zone; empty means UTC.
func ParseZone(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errs.New(errs.KindInvalid, errs.WithMessage("unknown time zone "+tz), errs.WithCause(err))
	}
	return loc, nil
}

// Points is the number of daily equity points for r.
func (r Range) Points(now time.Time, loc *time.Location) int {
	switch r {
	case Range7d:
		return 7
	case Range30d:
		return 30
	case RangeYTD:
		local := now.In(loc)
		jan1 := time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc)
		days := int(math.Ceil(float64(now.Sub(jan1)) / float64(24*time.Hour)))
		if days < 7 {
			days = 7
		}
		return days
	}
	return allPoints
}

// Event is one realized PnL contribution.
type Event struct {
	At     time.Time   `json:"time"`
	Symbol string      `json:"symbol"`
	Side   models.Side `json:"side"`
	Qty    float64     `json:"qty"`
	Price  float64     `json:"price"`
	Pnl    float64     `json:"pnl"`
}

// EventsFromTrades uses each trade's net PnL at its close time.
func EventsFromTrades(trades []models.Trade) []Event {
	events := make([]Event, 0, len(trades))
	for _, t := range trades {
		events = append(events, Event{At: t.CloseTime, Symbol: t.Symbol, Side: t.Side, Qty: t.Qty, Price: t.AvgExit, Pnl: t.NetPnl})
	}
	return events
}

// EventsFromExecutions keeps fills that realized PnL, net of their fee.
func EventsFromExecutions(executions []models.Execution) []Event {
	var events []Event
	for _, e := range executions {
		if e.RealizedPnl == 0 {
			continue
		}
		pnl := decimal.NewFromFloat(e.RealizedPnl).Sub(decimal.NewFromFloat(e.Fee))
		events = append(events, Event{At: e.ExecTime, Symbol: e.Symbol, Side: e.Side, Qty: e.Qty, Price: e.Price, Pnl: pnl.InexactFloat64()})
	}
	return events
}

// KPIs are the headline metrics.
type KPIs struct {
	NetPnl       float64 `json:"net_pnl"`
	WinRate      int     `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	TradeCount   int     `json:"trade_count"`
}

// Point is one equity curve sample at a local day end.
type Point struct {
	X int64   `json:"x"`
	Y float64 `json:"y"`
}

// Day is one calendar cell of the current month.
type Day struct {
	Day    int     `json:"day"`
	Pnl    float64 `json:"pnl"`
	Trades int     `json:"trades"`
}

// Summary is the dashboard payload.
type Summary struct {
	Range    Range   `json:"range"`
	TimeZone string  `json:"tz"`
	KPIs     KPIs    `json:"kpis"`
	Equity   []Point `json:"equity"`
	Calendar []Day   `json:"calendar"`
	Trades   []Event `json:"trades"`
}

// Summarize computes a summary as of now.
func Summarize(events []Event, r Range, loc *time.Location, now time.Time) Summary {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	ends := DayEnds(r.Points(now, loc), loc, now)
	inRange := sorted
	if r != RangeAll && len(ends) > 0 {
		start := ends[0].AddDate(0, 0, -1).Add(time.Millisecond)
		i := sort.Search(len(sorted), func(i int) bool { return !sorted[i].At.Before(start) })
		inRange = sorted[i:]
	}

	return Summary{
		Range:    r,
		TimeZone: loc.String(),
		KPIs:     computeKPIs(inRange),
		Equity:   equityCurve(inRange, ends),
		Calendar: calendar(sorted, loc, now),
		Trades:   recent(inRange),
	}
}

func computeKPIs(events []Event) KPIs {
	net, profit, loss := decimal.Zero, decimal.Zero, decimal.Zero
	wins := 0
	for _, e := range events {
		pnl := decimal.NewFromFloat(e.Pnl)
		net = net.Add(pnl)
		switch {
		case e.Pnl > 0:
			wins++
			profit = profit.Add(pnl)
		case e.Pnl < 0:
			loss = loss.Add(pnl.Abs())
		}
	}
	k := KPIs{NetPnl: net.Round(2).InexactFloat64(), TradeCount: len(events)}
	if len(events) > 0 {
		k.WinRate = int(math.Round(float64(wins) / float64(len(events)) * 100))
	}
	if loss.IsZero() {
		loss = decimal.NewFromInt(1)
	}
	k.ProfitFactor = profit.Div(loss).Round(2).InexactFloat64()
	return k
}

// DayEnds returns the last millisecond of each of the n local days ending today.
func DayEnds(n int, loc *time.Location, now time.Time) []time.Time {
	local := now.In(loc)
	ends := make([]time.Time, 0, n)
	for i := n - 1; i >= 0; i-- {
		d := local.AddDate(0, 0, -i)
		ends = append(ends, time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, int(999*time.Millisecond), loc))
	}
	return ends
}

func equityCurve(events []Event, ends []time.Time) []Point {
	points := make([]Point, 0, len(ends))
	running := decimal.Zero
	idx := 0
	for _, end := range ends {
		for idx < len(events) && !events[idx].At.After(end) {
			running = running.Add(decimal.NewFromFloat(events[idx].Pnl))
			idx++
		}
		points = append(points, Point{X: end.UnixMilli(), Y: running.Add(decimal.NewFromInt(StartBalance)).Round(2).InexactFloat64()})
	}
	return points
}

func calendar(events []Event, loc *time.Location, now time.Time) []Day {
	local := now.In(loc)
	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	days := first.AddDate(0, 1, -1).Day()

	pnl := make([]decimal.Decimal, days)
	cells := make([]Day, days)
	for i := range cells {
		cells[i].Day = i + 1
	}
	for _, e := range events {
		at := e.At.In(loc)
		if at.Year() != local.Year() || at.Month() != local.Month() {
			continue
		}
		i := at.Day() - 1
		pnl[i] = pnl[i].Add(decimal.NewFromFloat(e.Pnl))
		cells[i].Trades++
	}
	for i := range cells {
		cells[i].Pnl = pnl[i].Round(2).InexactFloat64()
	}
	return cells
}

func recent(events []Event) []Event {
	n := len(events)
	if n > recentEvents {
		n = recentEvents
	}
	out := make([]Event, 0, n)
	for i := len(events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, events[i])
	}
	return out
}
