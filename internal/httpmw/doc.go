// Package httpmw holds the middleware httpserver.NewHandler stacks in front
// of the tenant dispatcher, outermost first:
//
//	SecurityHeaders, Recover, RequestID, ClientIP, rate limit, otelhttp,
//	GatewayHeaders, TraceHeaders, metrics, WithLogger,
//	then inside the chi router AnnotateHTTPRoute, AccessLog and MaxBody.
//
// Context slots carry what inner layers learn back to outer ones. The
// dispatcher records the tenant generation it served from, and the router
// records the matched route, so headers, spans and the access log agree on
// them. User agents and request bodies are never logged.
package httpmw
