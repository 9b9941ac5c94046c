package sunspec_modbus

type MeterInfo struct {
	Manufacturer string
	Model        string
	Version      string
	Serial       string
}

// ACMeterPowerFlow is a grid meter reading taken at the connection point.
type ACMeterPowerFlow struct {
	// Positive while importing from the grid, negative while exporting
	GridWatt    float64
	ExportedKWh float64
	ImportedKWh float64
	Frequency   float64
	// first phase
	Voltage float64
}

// ACMeterModbusReader reads a SunSpec grid meter. It never writes registers.
type ACMeterModbusReader interface {
	Open() error
	Close() error
	Validate() error
	GetInfo() (*MeterInfo, error)
	GetGridWatt() (float64, error)
	GetPowerFlow() (*ACMeterPowerFlow, error)
}
