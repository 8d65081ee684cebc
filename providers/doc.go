// Package providers implements the identity provider surface used by the
// credential service: the OAuth token endpoint client, the EventSub
// subscription client, the users endpoint and id_token verification.
package providers
