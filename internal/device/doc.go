// Package device defines the BLE central abstraction used by the bridge.
//
// A Central scans for advertisements and dials peripherals; a Client is one
// live GATT connection and resolves Characteristics by service and UUID.
// Concrete stacks live in subpackages (goble, tinygo) and are selected by
// devicefactory. The package also carries the Nordic UART Service profile
// constants, UUID normalization and the typed connection errors every stack
// adapter maps its failures onto.
package device
