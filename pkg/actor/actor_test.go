package actor

import "testing"

func TestMatchesByPublicKey(t *testing.T) {
	pk := "GABCPUBLICKEY"
	a := New("user-1", &pk)

	rowPK := "GABCPUBLICKEY"
	if !a.Matches("someone-else", &rowPK) {
		t.Fatalf("expected publicKey match to win even with a different userID")
	}
}

func TestMatchesByUserID(t *testing.T) {
	a := New("user-1", nil)

	if !a.Matches("user-1", nil) {
		t.Fatalf("expected userID match")
	}
	if a.Matches("user-2", nil) {
		t.Fatalf("did not expect a match for a different userID with no public key")
	}
}

func TestMatchesNoCredentials(t *testing.T) {
	a := Actor{}
	if a.Matches("anyone", nil) {
		t.Fatalf("an actor with no userID and no publicKey should never match")
	}
}

func TestHasPublicKey(t *testing.T) {
	pk := "GABC"
	if !(New("u", &pk).HasPublicKey()) {
		t.Fatalf("expected HasPublicKey true")
	}
	if New("u", nil).HasPublicKey() {
		t.Fatalf("expected HasPublicKey false for nil")
	}
	empty := ""
	if New("u", &empty).HasPublicKey() {
		t.Fatalf("expected HasPublicKey false for empty string")
	}
}
