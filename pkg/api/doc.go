/*
Package api serves the HTTP and WebSocket surfaces of both daemons.

The engine node surface (port 8080 by convention) manages containers,
matches, commands, and snapshot pulls, plus the streaming endpoints. The
control plane surface (port 8081) covers node registration, heartbeats,
cluster status, match routing, and player admission.

Every endpoint except health/readiness requires a bearer credential: the
cluster api key for daemons and operators, or a match-scoped token for
players. Success responses use the {data, meta} envelope; errors use
{error:{code, message, details}} with taxonomy codes. Rate limiting is
per principal with the standard X-RateLimit headers.

Streaming upgrades carry the token in the "Bearer.<token>" subprotocol
(preferred) or a token query parameter.
*/
package api
