// services/hal/provider/provider_gpiod_stub.go
//go:build !linux

package provider

import (
	"cloudbutton-go/errcode"
	"cloudbutton-go/services/hal/halio"
)

// The gpiod character-device backend only exists on Linux.
func newGPIOD(string) (halio.PinProvider, error) {
	return nil, &errcode.E{C: errcode.Unsupported, Op: "gpiod", Msg: "linux only"}
}
