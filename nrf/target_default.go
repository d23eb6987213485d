//go:build !nrf52810 && !nrf52811 && !nrf52833 && !nrf52840 && !nrf9160

package nrf

// Target is the variant the firmware is built for, selected with a build tag.
var Target = NRF52832
