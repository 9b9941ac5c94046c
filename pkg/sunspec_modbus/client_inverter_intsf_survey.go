package sunspec_modbus

import (
	"errors"

	"github.com/simonvetter/modbus"
)

const (
	SUNSPEC_BASE_ADDRESS     = 40000
	SUNSPEC_WK_COMMON        = 1
	SUNSPEC_WK_INVERTERS_MIN = 101
	SUNSPEC_WK_INVERTERS_MAX = 103
	SUNSPEC_WK_STATUS        = 122
	SUNSPEC_WK_STORAGE       = 124
	SUNSPEC_WK_MPPT          = 160
	SUNSPEC_WK_METERS_MIN    = 201
	SUNSPEC_WK_METERS_MAX    = 204
)

// inverter
type inverterIntSFModbusBlocks struct {
	common   uint16
	inverter uint16
	status   uint16
	mppt     uint16
	storage  uint16
}

func (blk *inverterIntSFModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.inverter > 0 &&
		blk.status > 0 && blk.mppt > 0 && blk.storage > 0
}

func (inv *InverterIntSFModbusReader) survey() error {
	blocks := inverterIntSFModbusBlocks{}
	err := surveyModbusBlocks(inv.ModbusClient, 20, func(block *modbusBlock) bool {
		if block.id >= SUNSPEC_WK_INVERTERS_MIN && block.id <= SUNSPEC_WK_INVERTERS_MAX {
			blocks.inverter = block.baseAddr
		} else {
			switch block.id {
			case SUNSPEC_WK_COMMON:
				blocks.common = block.baseAddr
			case SUNSPEC_WK_STATUS:
				blocks.status = block.baseAddr
			case SUNSPEC_WK_STORAGE:
				blocks.storage = block.baseAddr
			case SUNSPEC_WK_MPPT:
				blocks.mppt = block.baseAddr
			}
		}
		return blocks.AllBlocksDefined()
	})
	if err != nil {
		return err
	}
	// status and storage are optional
	if blocks.common > 0 && blocks.inverter > 0 && blocks.mppt > 0 {
		inv.blocks = blocks
		return nil
	}
	return errors.New("could not find all required sunspec blocks (common, inverter, mppt)")
}

// common

type modbusBlock struct {
	id       uint16
	baseAddr uint16
	length   uint16
}

func (block *modbusBlock) isEndBlock() bool {
	return block.id == 0xFFFF
}

// surveyModbusBlocks walks the SunSpec model chain, calling visit for each
// block until visit returns true, the end block is reached or maxBlocks is
// exceeded.
func surveyModbusBlocks(reader ModbusClient, maxBlocks int, visit func(block *modbusBlock) bool) error {
	str, err := reader.readString(SUNSPEC_BASE_ADDRESS, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return ErrNotSunSpec
	}

	baseAddr := uint16(SUNSPEC_BASE_ADDRESS + 2)
	for n := 0; n <= maxBlocks; n++ {
		block, err := surveyModbusBlock(reader.client, baseAddr)
		if err != nil {
			return err
		}
		if block.isEndBlock() || visit(block) {
			return nil
		}
		baseAddr = baseAddr + block.length + 2
	}
	return nil
}

func surveyModbusBlock(client *modbus.ModbusClient, baseAddr uint16) (*modbusBlock, error) {
	wellKnownValue, err := client.ReadRegister(baseAddr, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	length, err := client.ReadRegister(baseAddr+1, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return &modbusBlock{
		id:       wellKnownValue,
		length:   length,
		baseAddr: baseAddr,
	}, nil
}
