package sunspec_modbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

type acMeterIntSFModbusBlocks struct {
	common  uint16
	acMeter uint16
}

func (blk *acMeterIntSFModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.acMeter > 0
}

type ACMeterIntSFModbusReader struct {
	ModbusClient
	blocks       acMeterIntSFModbusBlocks
	manufacturer string
}

func CreateACMeterIntSFModbusReader(ip string, port uint, acMeterAddress uint8, timeout time.Duration,
	manufacturer string, logger *zap.Logger, instrumentation *ModbusInstrument) (ACMeterModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	inst := []ModbusInstrument{*traceLoggerInstrumentation(logger.With(zap.String("target", "acMeter"), zap.Uint8("unit", acMeterAddress)))}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if err := client.SetUnitId(acMeterAddress); err != nil {
		return nil, err
	}
	return &ACMeterIntSFModbusReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		manufacturer: manufacturer,
	}, nil
}

func (reader *ACMeterIntSFModbusReader) Open() error {
	if err := reader.client.Open(); err != nil {
		return err
	}
	if err := reader.survey(); err != nil {
		reader.client.Close()
		return err
	}
	return nil
}

func (reader ACMeterIntSFModbusReader) Close() error {
	return reader.client.Close()
}

func (reader ACMeterIntSFModbusReader) Validate() error {
	return checkManufacturer(reader.ModbusClient, reader.blocks.common, reader.manufacturer, "smart meter")
}

func (reader ACMeterIntSFModbusReader) GetInfo() (*MeterInfo, error) {
	manufacturer, model, version, serial, err := readCommonBlock(reader.ModbusClient, reader.blocks.common)
	if err != nil {
		return nil, err
	}
	return &MeterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

func (reader ACMeterIntSFModbusReader) GetGridWatt() (float64, error) {
	totalRealPower, err := reader.readRegister(reader.blocks.acMeter+18, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	totalRealPowerSF, err := reader.readRegister(reader.blocks.acMeter+22, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return reader.applySFint16(int16(totalRealPower), totalRealPowerSF), nil
}

func (reader ACMeterIntSFModbusReader) GetPowerFlow() (*ACMeterPowerFlow, error) {
	totalRealPower, err := reader.GetGridWatt()
	if err != nil {
		return nil, err
	}
	totalEnergyExported, err := reader.readUint32(reader.blocks.acMeter+38, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	totalEnergyImported, err := reader.readUint32(reader.blocks.acMeter+46, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	totWhSF, err := reader.readRegister(reader.blocks.acMeter+54, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	freq, err := reader.readRegisters(reader.blocks.acMeter+16, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	phaseAVoltage, err := reader.readRegister(reader.blocks.acMeter+8, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	phaseAVoltageSF, err := reader.readRegister(reader.blocks.acMeter+15, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}

	return &ACMeterPowerFlow{
		GridWatt:    totalRealPower,
		ExportedKWh: reader.applySFuint32(totalEnergyExported, totWhSF) / 1000,
		ImportedKWh: reader.applySFuint32(totalEnergyImported, totWhSF) / 1000,
		Frequency:   reader.applySF(freq[0], freq[1]),
		Voltage:     reader.applySF(phaseAVoltage, phaseAVoltageSF),
	}, nil
}

func (reader *ACMeterIntSFModbusReader) survey() error {
	blocks := acMeterIntSFModbusBlocks{}
	err := surveyModbusBlocks(reader.ModbusClient, 10, func(block *modbusBlock) bool {
		switch {
		case block.id == SUNSPEC_WK_COMMON:
			blocks.common = block.baseAddr
		case block.id >= SUNSPEC_WK_METERS_MIN && block.id <= SUNSPEC_WK_METERS_MAX:
			blocks.acMeter = block.baseAddr
		}
		return blocks.AllBlocksDefined()
	})
	if err != nil {
		return err
	}
	if blocks.AllBlocksDefined() {
		reader.blocks = blocks
		return nil
	}
	return errors.New("could not find all required sunspec blocks (common, ac_meter)")
}
