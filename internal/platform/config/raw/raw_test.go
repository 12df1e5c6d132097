package raw

import "testing"

func TestGet(t *testing.T) {
	t.Setenv("LOG_LEVEL", "  warn ")
	c := New().Prefix("LOG_")

	if got := c.Get("LEVEL", "info"); got != "warn" {
		t.Fatalf("Get = %q, want warn", got)
	}
	if got := c.Get("MISSING", "dflt"); got != "dflt" {
		t.Fatalf("Get missing = %q, want dflt", got)
	}
}

func TestGetBool(t *testing.T) {
	c := New().Prefix("B_")
	for _, tc := range []struct {
		val  string
		def  bool
		want bool
	}{
		{"1", false, true},
		{"TRUE", false, true},
		{" yes ", false, true},
		{"no", true, false},
		{"0", true, false},
		{"", true, true},
	} {
		t.Setenv("B_FLAG", tc.val)
		if got := c.GetBool("FLAG", tc.def); got != tc.want {
			t.Fatalf("GetBool(%q, def=%v) = %v, want %v", tc.val, tc.def, got, tc.want)
		}
	}
}

func TestGetInt(t *testing.T) {
	c := New().Prefix("I_")
	t.Setenv("I_OK", " 42 ")
	t.Setenv("I_NEG", "-3")
	t.Setenv("I_BAD", "4x")

	if got := c.GetInt("OK", 1); got != 42 {
		t.Fatalf("GetInt OK = %d", got)
	}
	if got := c.GetInt("NEG", 7); got != 7 {
		t.Fatalf("GetInt NEG = %d, want default", got)
	}
	if got := c.GetInt("BAD", 9); got != 9 {
		t.Fatalf("GetInt BAD = %d, want default", got)
	}
	if got := c.GetInt("MISSING", 5); got != 5 {
		t.Fatalf("GetInt MISSING = %d", got)
	}
}
