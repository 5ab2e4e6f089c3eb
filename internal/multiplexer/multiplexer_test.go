package multiplexer

import (
	"context"
	"os/exec"
	"testing"
)

func TestEscapeShellArgRoundTrips(t *testing.T) {
	cases := []string{
		"simple",
		"with spaces",
		`it's got a quote`,
		`''leading and trailing''`,
		"",
	}
	for _, s := range cases {
		escaped := EscapeShellArg(s)
		out, err := exec.CommandContext(context.Background(), "sh", "-c", "printf '%s' "+escaped).CombinedOutput()
		if err != nil {
			t.Fatalf("sh -c failed for %q: %v (%s)", s, err, out)
		}
		if string(out) != s {
			t.Errorf("EscapeShellArg(%q) round-tripped to %q", s, out)
		}
	}
}
