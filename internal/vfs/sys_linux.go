package vfs

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const setLockCmd = unix.F_OFD_SETLK

// ENOATTR is spelled ENODATA on linux
var ENOATTR = syscall.ENODATA
