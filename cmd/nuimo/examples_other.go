//go:build !darwin

package main

const (
	exampleDeviceAddress = "E4:5F:01:2A:3B:4C"
	deviceAddressNote    = "Device address format: MAC address\n  Use 'nuimo scan' to discover controllers"
)
