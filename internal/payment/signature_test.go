package payment

import (
	"errors"
	"testing"
)

func TestXVerify(t *testing.T) {
	t.Parallel()

	got := XVerify("eyJhIjoxfQ==", "/pg/v1/pay", "salt-key", "1")
	want := "5446775bd0c10186f4773b1eb573dfea07b166d242743a1d4596b0065d01654c###1"
	if got != want {
		t.Errorf("XVerify() = %q, want %q", got, want)
	}
	if XVerify("eyJhIjoxfQ==", "/pg/v1/pay", "other", "1") == got {
		t.Error("signature does not depend on the salt key")
	}
}

func TestVerifyCallback(t *testing.T) {
	t.Parallel()

	const response = "eyJzdWNjZXNzIjp0cnVlfQ=="
	header := XVerify(response, "", "salt", "2")

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"valid", header, true},
		{"surrounding space", "  " + header + " ", true},
		{"empty", "", false},
		{"wrong index", XVerify(response, "", "salt", "1"), false},
		{"wrong salt", XVerify(response, "", "pepper", "2"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := VerifyCallback(tt.header, response, "salt", "2")
			if tt.ok && err != nil {
				t.Errorf("VerifyCallback() error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("VerifyCallback() error = %v, want ErrInvalidSignature", err)
			}
		})
	}
}
