package vesting

import "strings"

// requireActive is the global pause guard. Every mutating schedule operation
// calls it before touching balances.
func requireActive(control ControlState) error {
	if control.Paused {
		return newError(CodePaused, "", "vesting is globally paused")
	}
	return nil
}

func requireClaimable(control ControlState, schedule Schedule) error {
	if err := requireActive(control); err != nil {
		return err
	}
	if schedule.Paused {
		return newError(CodePaused, schedule.ID, "schedule is paused")
	}
	return nil
}

func requireAdmin(control ControlState, caller string) error {
	if !containsAddress(control.Admins, caller) {
		return newError(CodeUnauthorized, "", "caller %q is not an admin", caller)
	}
	return nil
}

func containsAddress(addresses []string, candidate string) bool {
	for _, address := range addresses {
		if sameAddress(address, candidate) {
			return true
		}
	}
	return false
}

func sameAddress(left string, right string) bool {
	trimmedLeft := strings.TrimSpace(left)
	if trimmedLeft == "" {
		return false
	}
	return trimmedLeft == strings.TrimSpace(right)
}
