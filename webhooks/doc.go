// Package webhooks authenticates signed event deliveries and routes them to
// credential operations.
//
// Every delivery runs the same pipeline: headers, envelope, signature, then
// kind-specific dispatch. Rejections before authentication answer 403 and
// callback failures after it answer 500; the cause is only reported to the
// error hook.
package webhooks
