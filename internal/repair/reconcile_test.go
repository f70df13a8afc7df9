package repair

import (
	"testing"

	"timelock/internal/paxos"
)

func val(seq int64, data string) paxos.Value {
	return paxos.Value{Seq: seq, ProposerID: "p1", Data: []byte(data)}
}

func TestReconcile_AllAgree(t *testing.T) {
	updates := []paxos.Update{
		{Values: []paxos.Value{val(1, "a"), val(2, "b")}},
		{Values: []paxos.Value{val(1, "a"), val(2, "b")}},
	}

	result := Reconcile(updates)

	if result.HasConflict() {
		t.Errorf("Expected no conflict, got %v", result.Conflicts)
	}
	if len(result.Agreed) != 2 {
		t.Errorf("Expected 2 agreed values, got %d", len(result.Agreed))
	}
	seqs := result.Sequences()
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("Expected sequences [1 2], got %v", seqs)
	}
}

func TestReconcile_LaggingLearnerDoesNotVote(t *testing.T) {
	updates := []paxos.Update{
		{Values: []paxos.Value{val(1, "a"), val(2, "b")}},
		{Values: []paxos.Value{val(1, "a")}},
		{},
	}

	result := Reconcile(updates)

	if result.HasConflict() {
		t.Errorf("Expected no conflict, got %v", result.Conflicts)
	}
	if v, ok := result.Agreed[2]; !ok || string(v.Data) != "b" {
		t.Errorf("Expected seq 2 agreed as 'b', got %v", result.Agreed[2])
	}
}

func TestReconcile_Divergence(t *testing.T) {
	updates := []paxos.Update{
		{Values: []paxos.Value{val(1, "a"), val(3, "x")}},
		{Values: []paxos.Value{val(1, "a"), val(3, "y")}},
		{Values: []paxos.Value{val(3, "x")}},
	}

	result := Reconcile(updates)

	if !result.HasConflict() {
		t.Fatal("Expected conflict at seq 3")
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0] != 3 {
		t.Errorf("Expected conflicts [3], got %v", result.Conflicts)
	}
	if _, ok := result.Agreed[3]; ok {
		t.Error("Expected seq 3 to be excluded from agreed values")
	}
	if _, ok := result.Agreed[1]; !ok {
		t.Error("Expected seq 1 to stay agreed")
	}
}

func TestReconcile_Empty(t *testing.T) {
	result := Reconcile(nil)

	if result.HasConflict() || len(result.Agreed) != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
}
