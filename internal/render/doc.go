// Package render turns planned emissions into publishable payloads.
//
// Messages are written once as Telegram-flavoured HTML; the plain text
// variant used by text-only channels is derived from that HTML. Events that
// are not worth a message return ErrNothingToSay.
package render
