//go:build nrf52810

package nrf

var Target = NRF52810
