package types

// AccountInfo is a point-in-time snapshot of the trading account.
// Equity = Cash + sum of position market values at the latest known prices.
type AccountInfo struct {
	Cash              float64 `yaml:"cash" json:"cash"`
	Equity            float64 `yaml:"equity" json:"equity"`
	BuyingPower       float64 `yaml:"buying_power" json:"buying_power"`
	InitialMargin     float64 `yaml:"initial_margin" json:"initial_margin"`
	MaintenanceMargin float64 `yaml:"maintenance_margin" json:"maintenance_margin"`
	UnrealizedPnL     float64 `yaml:"unrealized_pnl" json:"unrealized_pnl"`
	RealizedPnL       float64 `yaml:"realized_pnl" json:"realized_pnl"`
}
