package sunspec_modbus

type InverterInfo struct {
	Manufacturer      string
	Model             string
	Version           string
	Serial            string
	MaxRatedPowerWatt uint32
	HasStorage        bool
}

// InverterPowerFlow is an instantaneous inverter reading.
type InverterPowerFlow struct {
	// AC output of the inverter, negative while charging the battery from the grid
	ACPowerWatt float64
	// DC power produced by the PV strings
	PVPowerWatt float64
	// Battery flow. Positive = discharge. Negative = charge
	BatteryDCPowerFlowWatt float64
}

// InverterModbusReader reads a SunSpec inverter. It never writes registers.
type InverterModbusReader interface {
	Open() error
	Close() error
	Validate() error
	GetInfo() (*InverterInfo, error)
	GetPowerFlow() (*InverterPowerFlow, error)
	HasStorage() (bool, error)
}
