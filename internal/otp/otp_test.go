package otp

import (
	"testing"
)

func TestGenerateOTP_ReturnsSixDigits(t *testing.T) {
	code, err := GenerateOTP()
	if err != nil {
		t.Fatalf("GenerateOTP: %v", err)
	}
	if len(code) != CodeDigits {
		t.Errorf("OTP length = %d, want %d", len(code), CodeDigits)
	}
	if _, err := ValidateCode(code); err != nil {
		t.Errorf("generated code %q does not validate: %v", code, err)
	}
}

func TestGenerateOTP_Randomness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateOTP()
		if err != nil {
			t.Fatalf("GenerateOTP: %v", err)
		}
		seen[code] = true
	}
	// 50 draws from 10^6 codes; more than a couple of collisions means the source is broken.
	if len(seen) < 45 {
		t.Errorf("only %d distinct codes in 50 draws", len(seen))
	}
}

func TestNormalizePhone(t *testing.T) {
	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+919999999999", "+919999999999", false},
		{"  +91 99999-99999 ", "+919999999999", false},
		{"(022) 2345-6789", "02223456789", false},
		{"9999999999", "9999999999", false},
		{"123456789", "", true},
		{"+1234567890123456", "", true},
		{"99999abc99", "", true},
		{"99+99999999", "", true},
		{"", "", true},
		{"   ", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizePhone(tc.in)
			if tc.wantErr {
				if err != ErrInvalidPhone {
					t.Fatalf("NormalizePhone(%q) err = %v, want ErrInvalidPhone", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePhone(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestValidateCode(t *testing.T) {
	testCases := []struct {
		in      string
		wantErr bool
	}{
		{"123456", false},
		{" 1234 ", false},
		{"123", true},
		{"1234567", true},
		{"12a456", true},
		{"", true},
	}
	for _, tc := range testCases {
		_, err := ValidateCode(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateCode(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
	}
}

func TestDialDigits(t *testing.T) {
	if got := DialDigits("+919999999999"); got != "919999999999" {
		t.Errorf("DialDigits = %q", got)
	}
	if got := DialDigits("9999999999"); got != "9999999999" {
		t.Errorf("DialDigits = %q", got)
	}
}
