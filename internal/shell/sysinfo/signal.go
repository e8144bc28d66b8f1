package sysinfo

import "syscall"

// Sig is a process signal.
type Sig = syscall.Signal

// SIGCHLD asks a parent to reap its children.
const SIGCHLD Sig = syscall.SIGCHLD
