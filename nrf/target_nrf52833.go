//go:build nrf52833

package nrf

var Target = NRF52833
