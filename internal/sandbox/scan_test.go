package sandbox

import (
	"strings"
	"testing"
)

func hasViolation(violations []string, want string) bool {
	for _, v := range violations {
		if v == want {
			return true
		}
	}
	return false
}

func TestScanBlockedModules(t *testing.T) {
	for _, module := range blockedModules {
		for _, code := range []string{
			"import " + module,
			"from " + module + " import something",
		} {
			violations := Scan(code)
			if !hasViolation(violations, "blocked module import: "+module) {
				t.Errorf("Scan(%q) = %v, want blocked module violation", code, violations)
			}
		}
	}
}

func TestScanBlockedFunctions(t *testing.T) {
	violations := Scan("x = eval('1+1')")
	if !hasViolation(violations, "blocked function usage: eval") {
		t.Errorf("Scan(eval) = %v, want blocked function violation", violations)
	}
	if !hasViolation(violations, "dangerous pattern detected: eval(") {
		t.Errorf("Scan(eval) = %v, want dangerous pattern violation", violations)
	}

	violations = Scan("f = open('/etc/passwd')")
	if !hasViolation(violations, "blocked function usage: open") {
		t.Errorf("Scan(open) = %v, want blocked function violation", violations)
	}
}

func TestScanDangerousPatterns(t *testing.T) {
	violations := Scan("import os\nos.system('ls')")
	if !hasViolation(violations, "blocked module import: os") {
		t.Errorf("violations = %v, want blocked module import", violations)
	}
	if !hasViolation(violations, "dangerous pattern detected: os.system") {
		t.Errorf("violations = %v, want dangerous pattern", violations)
	}
}

func TestScanClean(t *testing.T) {
	for _, code := range []string{
		"result = 2 + 2",
		"total = price * quantity",
		`greeting = "hello"`,
		"# just a comment",
		"",
	} {
		if violations := Scan(code); len(violations) != 0 {
			t.Errorf("Scan(%q) = %v, want no violations", code, violations)
		}
	}
}

// The scan matches substrings, not tokens: names that merely contain a
// blocked name are flagged too. That over-blocking is the intended
// trade-off for a gate this simple.
func TestScanSubstringConservatism(t *testing.T) {
	violations := Scan("value = evaluate(x)")
	if !hasViolation(violations, "blocked function usage: eval") {
		t.Errorf("Scan(evaluate) = %v, want eval flagged by substring match", violations)
	}

	violations = Scan("profile = load()")
	if !hasViolation(violations, "blocked function usage: file") {
		t.Errorf("Scan(profile) = %v, want file flagged by substring match", violations)
	}
}

func TestScanReportsEveryViolation(t *testing.T) {
	code := "import socket\nimport pickle\ndata = eval(raw)"
	violations := Scan(code)
	for _, want := range []string{
		"blocked module import: socket",
		"blocked module import: pickle",
		"blocked function usage: eval",
	} {
		if !hasViolation(violations, want) {
			t.Errorf("violations = %v, missing %q", violations, want)
		}
	}
	if len(violations) < 3 {
		t.Errorf("got %d violations, want at least 3: %s", len(violations), strings.Join(violations, "; "))
	}
}
