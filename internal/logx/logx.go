// Package logx adds taskchat fields to pslog loggers.
package logx

import (
	"context"

	"pkt.systems/pslog"

	"taskchat/internal/service"
)

// Or returns log, or the context-less default logger when log is nil.
func Or(log pslog.Logger) pslog.Logger {
	if log == nil {
		return pslog.Ctx(context.Background())
	}
	return log
}

// WithUser annotates the logger with the user id when a user is present.
// Email addresses are left out.
func WithUser(log pslog.Logger, user *service.User) pslog.Logger {
	if user != nil {
		log = log.With("user_id", user.ID)
	}
	return log
}

// WithSession annotates the logger with the session status and generation.
func WithSession(log pslog.Logger, sess service.Session) pslog.Logger {
	return WithUser(log, sess.User).With("session", sess.Status.String(), "generation", sess.Generation)
}

// WithTask annotates the logger with a task id.
func WithTask(log pslog.Logger, id int) pslog.Logger {
	if id != 0 {
		log = log.With("task", id)
	}
	return log
}

// WithConversation annotates the logger with the conversation handle when set.
func WithConversation(log pslog.Logger, handle string) pslog.Logger {
	if handle != "" {
		log = log.With("conversation", handle)
	}
	return log
}
