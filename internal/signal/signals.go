// Package signal implements POSIX-shaped asynchronous notification:
// per-process mask/pending/disposition state and the delivery ordering
// rules. There is no kernel/user trampoline in this module; delivery
// means dequeue plus the observable disposition effects (RESETHAND,
// pending removal).
package signal

import "strconv"

// Signal is a signal number. Standard signals are 1..31 with fixed POSIX
// numbering; real-time signals are 32..63.
type Signal uint8

const (
	SIGHUP    Signal = 1
	SIGINT    Signal = 2
	SIGQUIT   Signal = 3
	SIGILL    Signal = 4
	SIGTRAP   Signal = 5
	SIGABRT   Signal = 6
	SIGBUS    Signal = 7
	SIGFPE    Signal = 8
	SIGKILL   Signal = 9
	SIGUSR1   Signal = 10
	SIGSEGV   Signal = 11
	SIGUSR2   Signal = 12
	SIGPIPE   Signal = 13
	SIGALRM   Signal = 14
	SIGTERM   Signal = 15
	SIGSTKFLT Signal = 16
	SIGCHLD   Signal = 17
	SIGCONT   Signal = 18
	SIGSTOP   Signal = 19
	SIGTSTP   Signal = 20
	SIGTTIN   Signal = 21
	SIGTTOU   Signal = 22
	SIGURG    Signal = 23
	SIGXCPU   Signal = 24
	SIGXFSZ   Signal = 25
	SIGVTALRM Signal = 26
	SIGPROF   Signal = 27
	SIGWINCH  Signal = 28
	SIGIO     Signal = 29
	SIGPWR    Signal = 30
	SIGSYS    Signal = 31

	// SIGRTMIN is the first real-time signal. Real-time signals queue;
	// standard signals coalesce.
	SIGRTMIN Signal = 32
	// SIGRTMAX is the last valid signal number.
	SIGRTMAX Signal = 63
)

// nsig bounds the standard-signal disposition array: handler slots exist
// for signals 1..31 only.
const nsig = 32

// Action is the default action taken when a signal is delivered with
// disposition Default.
type Action int

const (
	ActionTerminate Action = iota
	ActionCoreDump
	ActionStop
	ActionContinue
	ActionIgnore
)

func (a Action) String() string {
	switch a {
	case ActionTerminate:
		return "terminate"
	case ActionCoreDump:
		return "coredump"
	case ActionStop:
		return "stop"
	case ActionContinue:
		return "continue"
	case ActionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// DefaultAction returns the fixed default action for sig. Real-time
// signals default to Terminate.
func DefaultAction(sig Signal) Action {
	switch sig {
	case SIGKILL, SIGTERM, SIGINT, SIGQUIT, SIGHUP,
		SIGPIPE, SIGALRM, SIGUSR1, SIGUSR2, SIGPWR:
		return ActionTerminate
	case SIGSEGV, SIGILL, SIGBUS, SIGFPE,
		SIGABRT, SIGTRAP, SIGSYS, SIGXCPU, SIGXFSZ:
		return ActionCoreDump
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return ActionStop
	case SIGCONT:
		return ActionContinue
	case SIGCHLD, SIGURG, SIGWINCH, SIGIO:
		return ActionIgnore
	default:
		return ActionTerminate
	}
}

// Name returns the conventional name for a standard signal, or "SIGRT<n>"
// for real-time signals.
func Name(sig Signal) string {
	names := map[Signal]string{
		SIGHUP: "SIGHUP", SIGINT: "SIGINT", SIGQUIT: "SIGQUIT",
		SIGILL: "SIGILL", SIGTRAP: "SIGTRAP", SIGABRT: "SIGABRT",
		SIGBUS: "SIGBUS", SIGFPE: "SIGFPE", SIGKILL: "SIGKILL",
		SIGUSR1: "SIGUSR1", SIGSEGV: "SIGSEGV", SIGUSR2: "SIGUSR2",
		SIGPIPE: "SIGPIPE", SIGALRM: "SIGALRM", SIGTERM: "SIGTERM",
		SIGSTKFLT: "SIGSTKFLT", SIGCHLD: "SIGCHLD", SIGCONT: "SIGCONT",
		SIGSTOP: "SIGSTOP", SIGTSTP: "SIGTSTP", SIGTTIN: "SIGTTIN",
		SIGTTOU: "SIGTTOU", SIGURG: "SIGURG", SIGXCPU: "SIGXCPU",
		SIGXFSZ: "SIGXFSZ", SIGVTALRM: "SIGVTALRM", SIGPROF: "SIGPROF",
		SIGWINCH: "SIGWINCH", SIGIO: "SIGIO", SIGPWR: "SIGPWR",
		SIGSYS: "SIGSYS",
	}
	if n, ok := names[sig]; ok {
		return n
	}
	if sig >= SIGRTMIN && sig <= SIGRTMAX {
		return "SIGRT" + strconv.Itoa(int(sig-SIGRTMIN))
	}
	return "UNKNOWN"
}
