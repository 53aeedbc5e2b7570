// Package httpapi exposes twofa.Engine over JSON HTTP with chi.
//
// Public routes cover password and email-OTP sign-in, the second-factor
// challenge, and the email OTP flows. Routes under /two-factor that change
// a user's own settings require a session token from [Sessions]. Every error
// body has the shape {"code": "...", "message": "..."}.
//
// A trust token is returned in the JSON body and also set as the HttpOnly
// trust_device cookie; either is accepted on the next sign-in.
package httpapi
