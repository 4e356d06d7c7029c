// Package notify delivers notification node notices to an HTTP webhook.
//
// Each notice is POSTed as JSON. Repeated delivery failures open a circuit
// breaker so a dead endpoint fails notification nodes fast instead of
// holding every run for the full request timeout:
//
//	hook, err := notify.NewWebhook(cfg.Notify, log)
//	caps.Register(capability.TypeNotification, capability.Notification(hook))
package notify
