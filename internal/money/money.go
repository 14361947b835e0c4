package money

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 结算金额统一保留 2 位小数，四舍五入（half-up）。
const canonicalScale int32 = 2

// RateSnapshot 是某个拍卖开拍时冻结的汇率快照。
// Rates[CUR] 表示 1 结算货币可兑换的 CUR 数量；结算货币自身恒为 1。
// 快照由外部定价服务提供，引擎内只读，保证同一拍卖内换算口径一致。
type RateSnapshot struct {
	Canonical string                     `json:"canonical"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	AsOf      time.Time                  `json:"as_of"`
}

// NewSnapshot 由字符串汇率表构建快照，数值非法或 <=0 时报错。
func NewSnapshot(canonical string, rates map[string]string, asOf time.Time) (RateSnapshot, error) {
	canonical = strings.ToUpper(strings.TrimSpace(canonical))
	if canonical == "" {
		return RateSnapshot{}, fmt.Errorf("canonical currency is required")
	}
	out := RateSnapshot{
		Canonical: canonical,
		Rates:     make(map[string]decimal.Decimal, len(rates)+1),
		AsOf:      asOf,
	}
	out.Rates[canonical] = decimal.NewFromInt(1)
	for cur, raw := range rates {
		cur = strings.ToUpper(strings.TrimSpace(cur))
		if cur == canonical {
			continue
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return RateSnapshot{}, fmt.Errorf("rate for %s: %w", cur, err)
		}
		if !rate.IsPositive() {
			return RateSnapshot{}, fmt.Errorf("rate for %s must be > 0, got %s", cur, rate)
		}
		out.Rates[cur] = rate
	}
	return out, nil
}

// Supports 返回快照是否覆盖某货币。
func (s RateSnapshot) Supports(currency string) bool {
	_, ok := s.Rates[strings.ToUpper(strings.TrimSpace(currency))]
	return ok
}

// ToCanonical 将显示货币金额换算为结算货币金额。
// 纯函数：同一快照下结果确定，换算先于一切比较与运算发生。
func ToCanonical(amount decimal.Decimal, fromCurrency string, snap RateSnapshot) (decimal.Decimal, error) {
	rate, err := snap.rateFor(fromCurrency)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Div(rate).Round(canonicalScale), nil
}

// FromCanonical 将结算货币金额换算回某显示货币金额。
func FromCanonical(amount decimal.Decimal, toCurrency string, snap RateSnapshot) (decimal.Decimal, error) {
	rate, err := snap.rateFor(toCurrency)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(canonicalScale), nil
}

func (s RateSnapshot) rateFor(currency string) (decimal.Decimal, error) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	rate, ok := s.Rates[cur]
	if !ok {
		return decimal.Zero, fmt.Errorf("currency %q not in snapshot (as of %s)", cur, s.AsOf.Format(time.RFC3339))
	}
	return rate, nil
}
