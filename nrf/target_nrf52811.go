//go:build nrf52811

package nrf

var Target = NRF52811
