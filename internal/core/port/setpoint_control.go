package port

import "github.com/berfenger/surpluscharge/internal/core/domain"

type SetpointControlLogic interface {
	// Decide computes the next setpoint and updates mem in place.
	Decide(mem *domain.ControllerMemory, in domain.ControlInput) domain.ControlDecision
}
