package shared

import "testing"

func TestIsEntityID(t *testing.T) {
	valid := []string{"0.0.1001", " 0.0.8008 ", "1.2.3"}
	for _, value := range valid {
		if !IsEntityID(value) {
			t.Fatalf("expected %q to be an entity ID", value)
		}
	}
	invalid := []string{"", "0.0", "0.0.x", "topic", "0.0.1001-abcde", "0.0.1.2"}
	for _, value := range invalid {
		if IsEntityID(value) {
			t.Fatalf("expected %q to be rejected", value)
		}
	}
}
