//go:build nrf9160

package nrf

var Target = NRF9160
