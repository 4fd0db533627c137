package vault

import (
	"bytes"
	"errors"
	"testing"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestAccessGateSeedsAdmin(t *testing.T) {
	admin := testAddress(0x01)
	gate := NewAccessGate(admin)
	if !gate.HasRole(RoleVaultAdmin, admin) {
		t.Fatal("admin should hold vault admin role")
	}
	if !gate.HasRole(RolePauser, admin) {
		t.Fatal("admin should hold pauser role")
	}
}

func TestAccessGateGrantRevoke(t *testing.T) {
	admin := testAddress(0x01)
	operator := testAddress(0x02)
	gate := NewAccessGate(admin)

	if err := gate.Grant(operator, RolePauser, operator); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin grant, got %v", err)
	}
	if err := gate.Grant(admin, RolePauser, operator); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !gate.HasRole(RolePauser, operator) {
		t.Fatal("operator should hold pauser role after grant")
	}
	if err := gate.Revoke(admin, RolePauser, operator); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if gate.HasRole(RolePauser, operator) {
		t.Fatal("operator should not hold pauser role after revoke")
	}
}

func TestAccessGatePause(t *testing.T) {
	admin := testAddress(0x01)
	outsider := testAddress(0x03)
	gate := NewAccessGate(admin)

	if err := gate.RequireNotPaused(); err != nil {
		t.Fatalf("unexpected pause: %v", err)
	}
	if _, err := gate.SetPaused(outsider, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	changed, err := gate.SetPaused(admin, true)
	if err != nil || !changed {
		t.Fatalf("pause: changed=%v err=%v", changed, err)
	}
	if err := gate.RequireNotPaused(); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	// Setting the same value again reports no change.
	changed, err = gate.SetPaused(admin, true)
	if err != nil || changed {
		t.Fatalf("repeat pause: changed=%v err=%v", changed, err)
	}
}

func TestAccessGateSnapshotRoundTrip(t *testing.T) {
	admin := testAddress(0x01)
	operator := testAddress(0x02)
	gate := NewAccessGate(admin)
	if err := gate.Grant(admin, RolePauser, operator); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := gate.SetPaused(admin, true); err != nil {
		t.Fatalf("pause: %v", err)
	}

	grants := gate.Grants()
	restored := NewAccessGate(testAddress(0xFF))
	restored.Restore(grants, gate.Paused())

	if !restored.HasRole(RoleVaultAdmin, admin) || !restored.HasRole(RolePauser, operator) {
		t.Fatal("restored gate missing grants")
	}
	if restored.HasRole(RoleVaultAdmin, testAddress(0xFF)) {
		t.Fatal("restore should replace seeded grants")
	}
	if !restored.Paused() {
		t.Fatal("restored gate should be paused")
	}
}
