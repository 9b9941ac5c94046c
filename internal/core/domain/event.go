package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

func NewFloatSensorUpdate(id string, value float64, decimals uint) FloatSensorUpdateEvent {
	return FloatSensorUpdateEvent{SensorUpdateEventMixIn{Id: id}, value, decimals}
}

func NewBinarySensorUpdate(id string, value bool) BinarySensorUpdateEvent {
	return BinarySensorUpdateEvent{SensorUpdateEventMixIn{Id: id}, value}
}

func NewTextSensorUpdate(id string, value string) TextSensorUpdateEvent {
	return TextSensorUpdateEvent{SensorUpdateEventMixIn{Id: id}, value}
}

// BridgeStateUpdateEvent reports the bridge itself online or offline. It is
// published retained on the availability topic.
type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// ensure interface compliance
var (
	_ SensorUpdateEvent = FloatSensorUpdateEvent{}
	_ SensorUpdateEvent = BinarySensorUpdateEvent{}
	_ SensorUpdateEvent = TextSensorUpdateEvent{}
	_ SensorUpdateEvent = BridgeStateUpdateEvent{}
)
