// Package auth implements bearer-token authentication for the Equilibria
// gateway's HTTP surface.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (static PEM key
// or a JWKS endpoint with refresh and caching). Claims carry a subject plus
// role and scope lists; viewers read state and telemetry, operators
// additionally submit commands. With auth disabled every request runs as an
// anonymous operator, which is only acceptable on a trusted network.
package auth
