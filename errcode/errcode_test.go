package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeIsError(t *testing.T) {
	var err error = UnknownVariable
	if err.Error() != "unknown_variable" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", NotConnected, NotConnected},
		{"wrapper", &E{C: InvalidPayload, Op: "decode"}, InvalidPayload},
		{"foreign", errors.New("boom"), Error},
	}
	for _, tc := range cases {
		if got := Of(tc.err); got != tc.want {
			t.Errorf("%s: Of() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWrapperUnwrap(t *testing.T) {
	cause := errors.New("device gone")
	e := &E{C: PinInUse, Op: "claim", Msg: "pin 21", Err: cause}

	if !errors.Is(fmt.Errorf("outer: %w", e), cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if e.Error() != "pin_in_use: pin 21" {
		t.Errorf("unexpected message: %q", e.Error())
	}
}
