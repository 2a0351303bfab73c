package models

import "errors"

// ErrZeroChargeCapacity is returned when CE% would divide by zero
var ErrZeroChargeCapacity = errors.New("charge capacity is zero")

// CoulombicEfficiency returns discharge/charge capacity as a percentage
func CoulombicEfficiency(chargeCapacity, dischargeCapacity float64) (float64, error) {
	if chargeCapacity == 0 {
		return 0, ErrZeroChargeCapacity
	}
	return dischargeCapacity / chargeCapacity * 100, nil
}

// VoltageDelta returns charge minus discharge voltage. Negative values are kept.
func VoltageDelta(chargeVoltage, dischargeVoltage float64) float64 {
	return chargeVoltage - dischargeVoltage
}

// CapacityMAh converts a discharge capacity in Ah to the mAh column value
func CapacityMAh(dischargeCapacity float64) float64 {
	return dischargeCapacity * 1000
}
