package capture

import (
	"fmt"
	"strconv"
	"strings"
)

// SelectDevice resolves a device selector against devices. The selector is
// tried, in order, as an exact ID, an exact name, a case-insensitive name
// and a zero-based enumeration index. An empty selector picks the default
// device, or the first device when none is flagged as default.
func SelectDevice(devices []Device, selector string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("%w: no capture devices available", ErrDeviceNotFound)
	}
	if selector == "" {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		return devices[0], nil
	}
	for _, d := range devices {
		if d.ID == selector {
			return d, nil
		}
	}
	for _, d := range devices {
		if d.Name == selector {
			return d, nil
		}
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, selector) {
			return d, nil
		}
	}
	if idx, err := strconv.Atoi(selector); err == nil && idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, selector)
}
