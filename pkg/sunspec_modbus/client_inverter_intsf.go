package sunspec_modbus

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

type InverterIntSFModbusReader struct {
	ModbusClient

	logger       *zap.Logger
	blocks       inverterIntSFModbusBlocks
	manufacturer string
}

func (inv *InverterIntSFModbusReader) Open() error {
	if err := inv.client.Open(); err != nil {
		return err
	}
	if err := inv.survey(); err != nil {
		inv.client.Close()
		return err
	}
	return nil
}

func (inv InverterIntSFModbusReader) Close() error {
	return inv.client.Close()
}

// Validate checks the manufacturer string when one was requested.
func (inv InverterIntSFModbusReader) Validate() error {
	return checkManufacturer(inv.ModbusClient, inv.blocks.common, inv.manufacturer, "inverter")
}

func (inv InverterIntSFModbusReader) GetInfo() (*InverterInfo, error) {
	manufacturer, model, version, serial, err := readCommonBlock(inv.ModbusClient, inv.blocks.common)
	if err != nil {
		return nil, err
	}

	pow, err := inv.readRegister(inv.blocks.inverter+82, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	powSF, err := inv.readRegister(inv.blocks.inverter+102, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	hasStorage, err := inv.HasStorage()
	if err != nil {
		return nil, err
	}

	return &InverterInfo{
		Manufacturer:      manufacturer,
		Model:             model,
		Version:           version,
		Serial:            serial,
		MaxRatedPowerWatt: uint32(inv.applySF(pow, powSF)),
		HasStorage:        hasStorage,
	}, nil
}

// HasStorage reports a connected battery exposing a SunSpec storage block.
func (inv InverterIntSFModbusReader) HasStorage() (bool, error) {
	if inv.blocks.status == 0 {
		return false, nil
	}
	storageConn, err := inv.readRegister(inv.blocks.status+3, modbus.HOLDING_REGISTER)
	if err != nil {
		return false, err
	}
	if storageConn&0x0001 == 0 {
		return false, nil
	}
	return inv.blocks.storage > 0, nil
}

func (inv InverterIntSFModbusReader) GetPowerFlow() (*InverterPowerFlow, error) {
	// ac power + sf
	acpower, err := inv.readRegisters(inv.blocks.inverter+14, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	dcPowerSF, err := inv.readRegister(inv.blocks.mppt+4, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	nMods, err := inv.readRegister(inv.blocks.mppt+8, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}

	// module layout: [mppt1, (mppt2), (battery charge, battery discharge)]
	var pvModules uint16
	var batteryModules bool
	switch nMods {
	case 0:
	case 1, 2:
		pvModules = nMods
	case 3, 4:
		pvModules = nMods - 2
		batteryModules = true
	default:
		return nil, fmt.Errorf("sunspec: unexpected mppt module count %d", nMods)
	}

	var pvPower float64
	for i := uint16(0); i < pvModules; i++ {
		raw, err := inv.readMPPTPower(uint8(i))
		if err != nil {
			return nil, err
		}
		pvPower += inv.applySF(raw, dcPowerSF)
	}

	var batteryFlow float64
	if batteryModules {
		chargeRaw, err := inv.readMPPTPower(uint8(nMods - 2))
		if err != nil {
			return nil, err
		}
		dischargeRaw, err := inv.readMPPTPower(uint8(nMods - 1))
		if err != nil {
			return nil, err
		}
		batteryFlow = inv.applySF(dischargeRaw, dcPowerSF) - inv.applySF(chargeRaw, dcPowerSF)
	}

	return &InverterPowerFlow{
		ACPowerWatt:            inv.applySFint16(int16(acpower[0]), acpower[1]),
		PVPowerWatt:            pvPower,
		BatteryDCPowerFlowWatt: batteryFlow,
	}, nil
}

func (inv InverterIntSFModbusReader) readMPPTPower(index uint8) (uint16, error) {
	baseAddr := uint16(inv.blocks.mppt + 10 + 20*uint16(index))
	dcpower, err := inv.readRegister(baseAddr+11, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	// not implemented
	if dcpower == 0xFFFF {
		dcpower = 0
	}
	return dcpower, nil
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus read", zap.String("fn", fnName), zap.Int64("millis", readTime.Milliseconds()))
		},
	}
}

// CreateInverterIntSFModbusReader connects lazily to a SunSpec inverter using
// integer + scale factor register models. An empty manufacturer accepts any
// device.
func CreateInverterIntSFModbusReader(ip string, port uint, inverterAddress uint8, timeout time.Duration,
	manufacturer string, logger *zap.Logger, instrumentation *ModbusInstrument) (InverterModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	inst := []ModbusInstrument{*traceLoggerInstrumentation(logger.With(zap.String("target", "inverter"), zap.Uint8("unit", inverterAddress)))}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if inverterAddress > 0 {
		if err := client.SetUnitId(inverterAddress); err != nil {
			return nil, err
		}
	}

	return &InverterIntSFModbusReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		logger:       logger,
		manufacturer: manufacturer,
	}, nil
}
