package types

import "testing"

func TestSignalString(t *testing.T) {
	cases := []struct {
		signal Signal
		want   string
	}{
		{SignalHold, "hold"},
		{SignalBuy, "buy"},
		{SignalSell, "sell"},
		{Signal(42), "hold"}, // unknown values degrade to hold
	}
	for _, tc := range cases {
		if got := tc.signal.String(); got != tc.want {
			t.Errorf("Signal(%d): expected %q, got %q", tc.signal, tc.want, got)
		}
	}
}

func TestOrderStatusLifecycle(t *testing.T) {
	cases := []struct {
		status   OrderStatus
		terminal bool
		failed   bool
	}{
		{OrderStatusNew, false, false},
		{OrderStatusPartiallyFilled, false, false},
		{OrderStatusFilled, true, false},
		{OrderStatusCanceled, true, true},
		{OrderStatusRejected, true, true},
		{OrderStatusExpired, true, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s.Terminal(): expected %v, got %v", tc.status, tc.terminal, got)
		}
		if got := tc.status.Failed(); got != tc.failed {
			t.Errorf("%s.Failed(): expected %v, got %v", tc.status, tc.failed, got)
		}
	}
}
