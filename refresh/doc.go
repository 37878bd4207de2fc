// Package refresh implements the token refresh client. Refreshes go through
// the managed exchange service first and fall back to the provider's token
// endpoint directly when the exchange service is unreachable or broken.
package refresh
