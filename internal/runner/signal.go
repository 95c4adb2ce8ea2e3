package runner

import "syscall"

// terminateSignal is sent by Terminate; SIGKILL is reserved for Kill.
var terminateSignal = syscall.SIGTERM
