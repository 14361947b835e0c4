// Package account 对接账号协作方。引擎只把这里的数据当展示元数据，
// 从不参与竞价解析。
package account

import "strings"

// Directory 提供出价人 → 显示货币的查询。
type Directory interface {
	DisplayCurrency(bidderID int64) string
}

// StaticDirectory 是静态映射实现，查不到时回退默认货币。
type StaticDirectory struct {
	fallback   string
	currencies map[int64]string
}

func NewStaticDirectory(fallback string, currencies map[int64]string) *StaticDirectory {
	if currencies == nil {
		currencies = make(map[int64]string)
	}
	return &StaticDirectory{
		fallback:   strings.ToUpper(strings.TrimSpace(fallback)),
		currencies: currencies,
	}
}

func (d *StaticDirectory) DisplayCurrency(bidderID int64) string {
	if cur, ok := d.currencies[bidderID]; ok {
		return strings.ToUpper(strings.TrimSpace(cur))
	}
	return d.fallback
}
