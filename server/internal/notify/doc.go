// Package notify delivers alarm notifications over independent channels.
//
// Channels are a fixed set: log, email (SMTP), slack (incoming webhook) and sms
// (Twilio-compatible REST). Each channel is backed by one Notifier; the
// Dispatcher calls every channel a rule asks for, records a Result per
// channel, and never lets one channel's failure stop the others.
//
// A channel whose notifier is not registered (disabled in config) or whose
// configuration is incomplete is reported as ErrSkipped rather than a failure.
package notify
