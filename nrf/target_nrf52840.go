//go:build nrf52840

package nrf

var Target = NRF52840
