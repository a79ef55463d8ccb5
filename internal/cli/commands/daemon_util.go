package commands

import (
	"context"

	"ntvfs/internal/daemon"
	"ntvfs/internal/util"
)

// StartDaemonIfNeeded starts the notification daemon in the background if
// not running. If notify is true, prints a message to inform the user.
func StartDaemonIfNeeded(notify bool) error {
	cfg := util.DaemonStartConfig{
		Notify:     notify,
		PollConfig: util.DaemonStartPoll(),
	}

	return util.StartDaemonIfNeeded(
		context.Background(),
		cfg,
		daemon.IsDaemonRunning,
		[]string{"notifyd", "start", "--foreground"},
	)
}
