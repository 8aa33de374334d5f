package model

// InstrumentSpec holds the static trading constraints of a symbol.
type InstrumentSpec struct {
	TickSize        float64 `yaml:"tick_size" json:"tick_size"`                 // price increment, 0 = no rounding
	Spread          float64 `yaml:"spread" json:"spread"`                       // assumed bid/ask spread in price units
	MinStopDistance float64 `yaml:"min_stop_distance" json:"min_stop_distance"` // minimum SL/TP distance from price
	LotStep         float64 `yaml:"lot_step" json:"lot_step"`                   // order size increment, 0 = no rounding
}
