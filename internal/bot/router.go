package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/arbovm/levenshtein"
)

// maxSuggestionDistance bounds how far a typo may be from a known command
const maxSuggestionDistance = 2

// HandlerFunc handles one routed command
type HandlerFunc func(ctx context.Context, req *Request) error

// Route binds a command name to its handler
type Route struct {
	Command     string
	Args        string // usage hint shown by /help
	Description string
	Handler     HandlerFunc
	// Limited routes count against the per-user rate limit
	Limited bool
}

// Request is a parsed command invocation
type Request struct {
	Message Message
	Command string
	Args    []string
}

// Arg returns the i-th argument or ""
func (r *Request) Arg(i int) string {
	if i < len(r.Args) {
		return r.Args[i]
	}
	return ""
}

// Router dispatches slash commands through a declarative route table
type Router struct {
	botName string
	routes  map[string]Route
	order   []string
}

// NewRouter builds a router. botName is used to ignore commands
// addressed to other bots ("/start@OtherBot").
func NewRouter(botName string, routes ...Route) (*Router, error) {
	r := &Router{
		botName: strings.TrimPrefix(botName, "@"),
		routes:  make(map[string]Route, len(routes)),
	}
	for _, route := range routes {
		name := strings.ToLower(strings.TrimPrefix(route.Command, "/"))
		if name == "" || route.Handler == nil {
			return nil, fmt.Errorf("route %q needs a command and a handler", route.Command)
		}
		if _, dup := r.routes[name]; dup {
			return nil, fmt.Errorf("duplicate route /%s", name)
		}
		route.Command = name
		r.routes[name] = route
		r.order = append(r.order, name)
	}
	return r, nil
}

// Parse splits a command message into name and arguments. ok is false for
// plain text and for commands addressed to another bot.
func (r *Router) Parse(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}

	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		if r.botName != "" && !strings.EqualFold(target, r.botName) {
			return "", nil, false
		}
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

// Lookup returns the route for name
func (r *Router) Lookup(name string) (Route, bool) {
	route, ok := r.routes[name]
	return route, ok
}

// Suggest returns the closest known command within maxSuggestionDistance.
// Ties resolve to the alphabetically first command.
func (r *Router) Suggest(name string) (string, bool) {
	best, bestDist := "", maxSuggestionDistance+1
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	for _, candidate := range names {
		if d := levenshtein.Distance(name, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
	}
	return best, best != ""
}

// Help renders the route table in registration order
func (r *Router) Help() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, name := range r.order {
		route := r.routes[name]
		b.WriteString("/" + name)
		if route.Args != "" {
			b.WriteString(" " + route.Args)
		}
		if route.Description != "" {
			b.WriteString(" - " + route.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
