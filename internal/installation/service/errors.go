package service

import (
	"fmt"

	devicedomain "fleet-control-plane/internal/device/domain"
)

// Device classes an installation endpoint serves.
const (
	ClassDesktop = "desktop/laptop"
	ClassMobile  = "mobile (phone/tablet)"
)

// DeviceClassError is returned when a report arrives on the endpoint for the other device class.
type DeviceClassError struct {
	Class      string
	DeviceType devicedomain.DeviceType
}

func (e *DeviceClassError) Error() string {
	return fmt.Sprintf("This endpoint is only for %s devices", e.Class)
}
