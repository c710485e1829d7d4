package passphrase

import "testing"

func TestSourceReadsEnvironment(t *testing.T) {
	t.Setenv("LISTINGD_TEST_PASS", "correct horse")
	src := NewSource("LISTINGD_TEST_PASS")
	value, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "correct horse" {
		t.Fatalf("unexpected passphrase %q", value)
	}
	t.Setenv("LISTINGD_TEST_PASS", "changed")
	if again, _ := src.Get(); again != "correct horse" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("LISTINGD_TEST_PASS", "   ")
	if _, err := NewSource("LISTINGD_TEST_PASS").Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}

func TestSourceConfirmsInteractiveEntry(t *testing.T) {
	answers := [][]byte{[]byte("s3cret"), []byte("s3cret")}
	src := NewSource("", WithConfirmation())
	src.isTTY = func(int) bool { return true }
	src.read = func(int) ([]byte, error) {
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
	value, err := src.Get()
	if err != nil || value != "s3cret" {
		t.Fatalf("unexpected result %q, %v", value, err)
	}

	mismatch := NewSource("", WithConfirmation())
	mismatch.isTTY = func(int) bool { return true }
	replies := []string{"one", "two"}
	mismatch.read = func(int) ([]byte, error) {
		next := replies[0]
		replies = replies[1:]
		return []byte(next), nil
	}
	if _, err := mismatch.Get(); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("")
	src.isTTY = func(int) bool { return false }
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected error without terminal")
	}
}
