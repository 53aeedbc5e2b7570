// Package limiters provides Redis fixed-window counters used to throttle
// failed second-factor attempts and OTP resends.
package limiters
