// Package notifier delivers rendered game events to downstream channels.
//
// Every channel implements Publisher. Social channels (Twitter, Telegram,
// Discord) post the rendered text; machine channels (AMQP, MQTT) carry the
// full JSON payload. Failures are reported as *PublishError so the
// dispatcher can tell a retryable failure from a permanent one.
package notifier
