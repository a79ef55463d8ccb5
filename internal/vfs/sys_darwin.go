package vfs

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const setLockCmd = unix.F_SETLK

var ENOATTR = syscall.ENOATTR
