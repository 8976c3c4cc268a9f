package sandbox

import "strings"

// blockedModules are module names whose import is never allowed in
// sandboxed code: operating-system access, process spawning, threads,
// sockets and HTTP clients, serialization, and low-level memory or
// signal handling.
var blockedModules = []string{
	"os", "sys", "subprocess", "multiprocessing", "threading",
	"socket", "urllib", "requests", "http", "ftplib", "smtplib",
	"pickle", "marshal", "ctypes", "mmap", "signal",
}

// blockedFunctions are dynamic-evaluation and raw-I/O primitives that
// must not appear anywhere in sandboxed code.
var blockedFunctions = []string{
	"eval", "exec", "compile", "input", "raw_input",
	"open", "file", "__import__", "reload", "globals", "locals",
}

// dangerousPatterns are call patterns that are dangerous regardless of
// surrounding context.
var dangerousPatterns = []string{
	"subprocess.call", "subprocess.Popen", "os.system",
	"eval(", "exec(", "__import__", "globals()", "locals()",
}

// Scan checks source text for security violations and returns a
// description of each one found. This is a plain substring scan, not a
// parse: it is deliberately conservative and will flag blocked names
// even inside strings or identifiers that merely contain them. An
// empty result means the lexical gate passed, not that the code is
// safe; the restricted execution engine is the second layer.
func Scan(code string) []string {
	var violations []string

	for _, module := range blockedModules {
		if strings.Contains(code, "import "+module) || strings.Contains(code, "from "+module) {
			violations = append(violations, "blocked module import: "+module)
		}
	}

	for _, fn := range blockedFunctions {
		if strings.Contains(code, fn) {
			violations = append(violations, "blocked function usage: "+fn)
		}
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(code, pattern) {
			violations = append(violations, "dangerous pattern detected: "+pattern)
		}
	}

	return violations
}
