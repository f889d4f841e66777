package models

import "testing"

func TestValidEntityType(t *testing.T) {
	if !ValidEntityType(EntityMember) || !ValidEntityType(EntityVehicle) {
		t.Fatal("known entity types must validate")
	}
	if ValidEntityType("invoice") || ValidEntityType("") {
		t.Fatal("unknown entity types must not validate")
	}
}

func TestValidAction(t *testing.T) {
	for _, a := range []string{ActionCreate, ActionUpdate, ActionDelete} {
		if !ValidAction(a) {
			t.Fatalf("action %q must validate", a)
		}
	}
	if ValidAction("archive") || ValidAction("") {
		t.Fatal("unknown actions must not validate")
	}
}

func TestPendingEntityActive(t *testing.T) {
	p := PendingEntity{}
	if !p.Active() {
		t.Fatal("fresh record must be active")
	}
	p.IsDone = true
	if p.Active() {
		t.Fatal("done record must not be active")
	}
	p = PendingEntity{IsStuck: true}
	if p.Active() {
		t.Fatal("stuck record must not be active")
	}
}
