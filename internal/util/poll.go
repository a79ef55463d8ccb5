// Copyright 2024 NTVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package util

import (
	"context"
	"fmt"
	"time"
)

// PollConfig bounds a PollUntil loop. Zero fields take the DaemonStartPoll
// values.
type PollConfig struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DaemonStartPoll is used while waiting for notifyd to accept on its socket.
// The daemon binds its socket right after taking the instance lock, so a
// short interval keeps `watch` startup snappy.
func DaemonStartPoll() PollConfig {
	return PollConfig{Timeout: 5 * time.Second, Interval: 25 * time.Millisecond}
}

// DaemonStopPoll is used while waiting for notifyd to exit. Shutdown
// completes every outstanding watch with NOTIFY_CLEANUP first, which can
// take a coalesce window or two.
func DaemonStopPoll() PollConfig {
	return PollConfig{Timeout: 10 * time.Second, Interval: 25 * time.Millisecond}
}

// PollUntil checks condition immediately and then every Interval until it
// holds. Giving up wraps the context error, so callers can test for
// context.DeadlineExceeded or context.Canceled.
func PollUntil(ctx context.Context, cfg PollConfig, condition func() bool) error {
	def := DaemonStartPoll()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}

	if condition() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("condition not met within %s: %w", cfg.Timeout, ctx.Err())
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
