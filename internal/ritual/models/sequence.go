package models

import (
	"fmt"

	dErrors "badal/pkg/domain-errors"
)

// CheckAppend enforces the strict per-booking sequence: the next order must
// be exactly one past highest. An order already taken is a duplicate; any
// other miss is out of order.
func CheckAppend(highest, stepOrder int) error {
	switch {
	case stepOrder < 1:
		return dErrors.New(dErrors.CodeValidation, "step_order must be at least 1")
	case stepOrder <= highest:
		return dErrors.New(dErrors.CodeDuplicateStep,
			fmt.Sprintf("step %d is already recorded for this booking", stepOrder))
	case stepOrder != highest+1:
		return dErrors.New(dErrors.CodeOutOfOrder,
			fmt.Sprintf("expected step %d, got %d", highest+1, stepOrder))
	}
	return nil
}

// HighestOrder returns the largest StepOrder in events, or 0.
func HighestOrder(events []*RitualEvent) int {
	highest := 0
	for _, e := range events {
		if e.StepOrder > highest {
			highest = e.StepOrder
		}
	}
	return highest
}

// Previous returns the event with the highest order, or nil.
func Previous(events []*RitualEvent) *RitualEvent {
	var prev *RitualEvent
	for _, e := range events {
		if prev == nil || e.StepOrder > prev.StepOrder {
			prev = e
		}
	}
	return prev
}
