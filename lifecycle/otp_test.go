package lifecycle

import "testing"

func TestNewPickupCodeFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := NewPickupCode()
		if len(code) != 4 {
			t.Fatalf("code %q, want 4 characters", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit %q", code, r)
			}
		}
	}
}
