package batching

import "github.com/vincentbai/regrets-agent/internal/models"

// Route is where the pipeline sends an incoming envelope.
type Route int

const (
	// RouteImmediate hands the envelope straight to the sender.
	RouteImmediate Route = iota
	// RouteQueue appends it to its tab's processing queue.
	RouteQueue
)

func (r Route) String() string {
	switch r {
	case RouteImmediate:
		return "immediate"
	case RouteQueue:
		return "queue"
	default:
		return "unknown"
	}
}

// ShouldBeBatched reports whether env is tab scoped activity that can be
// attributed to a navigation: an HTTP request, response or redirect, a
// javascript operation or a cookie record, observed in a visible tab.
func ShouldBeBatched(env models.Envelope) bool {
	if env.TabID <= models.NoTab {
		return false
	}
	switch env.Type {
	case models.TypeHTTPRequest, models.TypeHTTPResponse, models.TypeHTTPRedirect,
		models.TypeJavascriptOperation, models.TypeJavascriptCookieRecord:
		return true
	case models.TypeNavigation, models.TypeLogEntry, models.TypeCapturedContent,
		models.TypeNavigationBatch, models.TypeTrimmedNavigationBatch:
		return false
	}
	return false
}

// Classify picks the route of env. Batchable activity is queued, and so
// are navigations in a visible tab since they head the batch their
// activity is grouped under. Everything else is sent immediately.
func Classify(env models.Envelope) Route {
	if ShouldBeBatched(env) || isTabNavigation(env) {
		return RouteQueue
	}
	return RouteImmediate
}

func isTabNavigation(env models.Envelope) bool {
	return env.Type == models.TypeNavigation && env.TabID > models.NoTab
}
