package sunspec_modbus

// TestACMeterModbusReader is an in-memory meter. Err, when set, is returned by
// every read.
type TestACMeterModbusReader struct {
	Flow ACMeterPowerFlow
	Err  error
}

func CreateTestACMeterModbusReader() *TestACMeterModbusReader {
	return &TestACMeterModbusReader{
		Flow: ACMeterPowerFlow{
			GridWatt:    -1250,
			ExportedKWh: 2770.34,
			ImportedKWh: 550.22,
			Frequency:   50,
			Voltage:     234.24,
		},
	}
}

func (reader *TestACMeterModbusReader) Open() error {
	return reader.Err
}

func (reader *TestACMeterModbusReader) Close() error {
	return nil
}

func (reader *TestACMeterModbusReader) Validate() error {
	return reader.Err
}

func (reader *TestACMeterModbusReader) GetInfo() (*MeterInfo, error) {
	if reader.Err != nil {
		return nil, reader.Err
	}
	return &MeterInfo{
		Manufacturer: "SurplusCharge",
		Model:        "Smart Meter TS 65A-3",
		Version:      "1.2",
	}, nil
}

func (reader *TestACMeterModbusReader) GetGridWatt() (float64, error) {
	if reader.Err != nil {
		return 0, reader.Err
	}
	return reader.Flow.GridWatt, nil
}

func (reader *TestACMeterModbusReader) GetPowerFlow() (*ACMeterPowerFlow, error) {
	if reader.Err != nil {
		return nil, reader.Err
	}
	flow := reader.Flow
	return &flow, nil
}

// TestInverterModbusReader is an in-memory inverter. Err, when set, is
// returned by every read.
type TestInverterModbusReader struct {
	Flow    InverterPowerFlow
	Storage bool
	Err     error
}

func CreateTestInverterModbusReader() *TestInverterModbusReader {
	return &TestInverterModbusReader{
		Flow: InverterPowerFlow{
			ACPowerWatt:            3320.2,
			PVPowerWatt:            3620.3,
			BatteryDCPowerFlowWatt: -200,
		},
		Storage: true,
	}
}

func (inv *TestInverterModbusReader) Open() error {
	return inv.Err
}

func (inv *TestInverterModbusReader) Close() error {
	return nil
}

func (inv *TestInverterModbusReader) Validate() error {
	return inv.Err
}

func (inv *TestInverterModbusReader) GetInfo() (*InverterInfo, error) {
	if inv.Err != nil {
		return nil, inv.Err
	}
	return &InverterInfo{
		Manufacturer:      "SurplusCharge",
		Model:             "Hybrid 5.0",
		Version:           "1.30.7-1",
		MaxRatedPowerWatt: 5000,
		HasStorage:        inv.Storage,
	}, nil
}

func (inv *TestInverterModbusReader) GetPowerFlow() (*InverterPowerFlow, error) {
	if inv.Err != nil {
		return nil, inv.Err
	}
	flow := inv.Flow
	return &flow, nil
}

func (inv *TestInverterModbusReader) HasStorage() (bool, error) {
	return inv.Storage, inv.Err
}

// ensure interface compliance
var (
	_ InverterModbusReader = (*TestInverterModbusReader)(nil)
	_ ACMeterModbusReader  = (*TestACMeterModbusReader)(nil)
	_ InverterModbusReader = (*InverterIntSFModbusReader)(nil)
	_ ACMeterModbusReader  = (*ACMeterIntSFModbusReader)(nil)
)
