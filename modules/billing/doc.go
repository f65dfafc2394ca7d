// Package billing exposes the subscription engine over HTTP: the Paddle
// webhook endpoint plus per-tenant subscription, limits, plan change and
// add-on management routes.
package billing
