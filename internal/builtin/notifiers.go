package builtin

import (
	"context"
	"time"

	"schedd/internal/notify"
	"schedd/internal/sched"
	"schedd/pkg/logx"
)

// registerNotifiers installs "console" and "telegram".
//
// console logs and always works; it is the default for events created
// without an explicit notifier. telegram enqueues into the notification
// pipeline, which owns delivery, retry and dedup.
func registerNotifiers(reg *sched.Registry, deps Deps, log logx.Logger) {
	reg.RegisterNotifier("console", func(id, title string) {
		log.Info("task notification",
			logx.String("task", id),
			logx.String("title", title),
		)
	})

	reg.RegisterNotifier("telegram", func(id, title string) {
		if deps.Notify == nil {
			log.Warn("telegram notifier has no pipeline, dropping",
				logx.String("task", id),
			)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := deps.Notify.Notify(ctx, notify.Notification{
			TaskID: id,
			Title:  title,
			Text:   title,
		})
		if err != nil {
			log.Warn("telegram notification not accepted",
				logx.String("task", id),
				logx.Err(err),
			)
		}
	})
}
