// hap-light-device is a HomeKit light bulb accessory example.
//
// This binary runs a dimmable light that any HomeKit controller can
// pair with and control.
//
// Usage:
//
//	hap-light-device [options]
//
// Options:
//
//	-config   yaml configuration file
//	-name     accessory name (default: "HAP Light")
//	-model    model name (default: "HAP-1")
//	-code     8-digit setup code (default: 46637726)
//	-port     TCP port (default: 80)
//	-storage  path for persistent storage (default: ./hap-data)
//
// Example:
//
//	hap-light-device -name "Desk Lamp" -code 31147756 -port 8080
package main

import (
	"log"

	"github.com/backkem/hap/examples/common"
	"github.com/backkem/hap/examples/light"
)

func main() {
	opts := common.ParseFlags()

	device, err := light.NewDevice(opts)
	if err != nil {
		log.Fatalf("Failed to create light device: %v", err)
	}

	if err := common.RunDevice(device.Hap); err != nil {
		log.Fatalf("Device error: %v", err)
	}
}
