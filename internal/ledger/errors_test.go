package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/danmuck/ledgerctl/internal/device"
	"github.com/danmuck/ledgerctl/internal/testutil/testlog"
)

func TestClassify(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		err  error
		want Class
	}{
		{ErrNoActiveSession, ClassNoActiveSession},
		{fmt.Errorf("%w: %w", ErrTransportUnsupported, errors.New("no u2f")), ClassTransportUnsupported},
		{device.NewError(device.KindUnsupported, device.OpOpen, nil), ClassTransportUnsupported},
		{&device.Error{Kind: device.KindLocked, Lock: device.OpSignTransaction}, ClassDeviceBusy},
		{fmt.Errorf("%w: close", ErrTeardown), ClassTeardownFailure},
		{device.NewError(device.KindAppNotOpen, device.OpGetPublicKey, nil), ClassHandshakeFailure},
		{errors.New("unexpected"), ClassHandshakeFailure},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) got=%s want=%s", tc.err, got, tc.want)
		}
	}
}

func TestTransportGone(t *testing.T) {
	testlog.Start(t)
	if !transportGone(device.NewError(device.KindDisconnected, device.OpGetPublicKey, nil)) {
		t.Fatalf("disconnected error should drop the transport")
	}
	if transportGone(device.NewError(device.KindAppNotOpen, device.OpGetPublicKey, nil)) {
		t.Fatalf("app-not-open error should keep the transport")
	}
	if transportGone(errors.New("plain")) {
		t.Fatalf("untagged error should keep the transport")
	}
}

func TestBusySigning(t *testing.T) {
	testlog.Start(t)
	if !busySigning(&device.Error{Kind: device.KindLocked, Lock: device.OpSignTransaction}) {
		t.Fatalf("expected sign lock to count as busy signing")
	}
	if busySigning(&device.Error{Kind: device.KindLocked, Lock: device.OpGetPublicKey}) {
		t.Fatalf("public key lock is not busy signing")
	}
}
