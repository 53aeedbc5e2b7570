// Package mail defines the message the two-factor engine hands to its
// delivery channel, renders the one-time-code emails, and ships an SMTP
// sender built on github.com/wneessen/go-mail plus a logging sender for
// development.
package mail
