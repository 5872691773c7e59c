package capability

import (
	"context"
	"testing"
)

func TestDerivedSecretStoreIsDeterministicPerName(t *testing.T) {
	s := NewDerivedSecretStore([]byte("master-secret"))
	a1, err := s.GetSecret(context.Background(), "db_password")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := s.GetSecret(context.Background(), "db_password")
	if err != nil {
		t.Fatal(err)
	}
	if a1 != a2 {
		t.Fatalf("expected deterministic derivation, got %s != %s", a1, a2)
	}
}

func TestDerivedSecretStoreVariesByName(t *testing.T) {
	s := NewDerivedSecretStore([]byte("master-secret"))
	a, _ := s.GetSecret(context.Background(), "db_password")
	b, _ := s.GetSecret(context.Background(), "api_token")
	if a == b {
		t.Fatal("expected different secrets for different names")
	}
}

func TestDerivedSecretStoreFailsWithoutMaster(t *testing.T) {
	s := NewDerivedSecretStore(nil)
	if _, err := s.GetSecret(context.Background(), "x"); err == nil {
		t.Fatal("expected error with no master secret")
	}
}

func TestStubSecretStoreAlwaysFails(t *testing.T) {
	var s StubSecretStore
	if _, err := s.GetSecret(context.Background(), "anything"); err == nil {
		t.Fatal("expected stub to always fail")
	}
}
