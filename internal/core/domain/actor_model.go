package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_TELEMETRY    = "telemetry"
	ACTOR_ID_CHARGER      = "charger"
	ACTOR_ID_CONTROL      = "control"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type FetchPowerFlowRequest struct {
	ActorRequestMixIn
}

type FetchPowerFlowResponse struct {
	ActorResponseMixIn
	Snapshot *PowerSnapshot
}

type GetChargerStateRequest struct {
	ActorRequestMixIn
}

type GetChargerStateResponse struct {
	ActorResponseMixIn
	State *ChargerState
}

type SetChargerAmpsRequest struct {
	ActorRequestMixIn
	TargetAmps int
}

type SetChargerAmpsResponse struct {
	ActorResponseMixIn
	TargetAmps int
}

type GetChargerInfoRequest struct {
	ActorRequestMixIn
}

type GetChargerInfoResponse struct {
	ActorResponseMixIn
	Info *ChargerInfo
}

// ControlTickRequest runs one fetch, estimate, decide and apply cycle.
type ControlTickRequest struct {
	ActorRequestMixIn
}

// ControlTickResponse carries the apply error, if any, in ResponseError.
type ControlTickResponse struct {
	ActorResponseMixIn
	Skipped  bool
	Decision *ControlDecision
	Memory   ControllerMemory
}

// DrainRequest is answered once no tick is in flight.
type DrainRequest struct {
	ActorRequestMixIn
}

type DrainResponse struct {
	ActorResponseMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
