package sync

import (
	"encoding/json"
	"strings"

	"github.com/weftwork/weft/errors"
)

// Verb is a request method on a route.
type Verb string

const (
	VerbGet       Verb = "GET"
	VerbPost      Verb = "POST"
	VerbDelete    Verb = "DELETE"
	VerbBroadcast Verb = "BROADCAST"
)

// BroadcastAction qualifies a broadcast envelope.
type BroadcastAction string

const (
	ActionPost   BroadcastAction = "POST"
	ActionUpdate BroadcastAction = "UPDATE"
	ActionDelete BroadcastAction = "DELETE"
)

// ErrNoRoute marks an envelope whose route and verb have no handler.
var ErrNoRoute = errors.New("no such route")

// Request is a decoded envelope handed to a handler. Params carries values
// bound by :name segments of the route pattern.
type Request struct {
	Route  string
	Verb   Verb
	Action BroadcastAction
	Data   json.RawMessage
	Params map[string]string
}

// Handler serves one (route, verb). The returned value is JSON-encoded into
// the response envelope.
type Handler func(req *Request) (any, error)

// ValidateBroadcast vets an inbound broadcast before it is applied and
// re-fanned to other peers. Returning an error drops the broadcast.
type ValidateBroadcast func(req *Request) error

type routeEntry struct {
	pattern   []string
	handlers  map[Verb]Handler
	validator ValidateBroadcast
}

// Router dispatches request and broadcast envelopes to registered handlers.
// Patterns are slash-separated with :name parameter segments, e.g.
// "provider-configs/:id/validate".
type Router struct {
	entries []*routeEntry
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers a handler for (pattern, verb).
func (r *Router) Handle(pattern string, verb Verb, h Handler) {
	r.entry(pattern).handlers[verb] = h
}

// HandleBroadcast registers a broadcast handler with an optional validator.
func (r *Router) HandleBroadcast(pattern string, validate ValidateBroadcast, h Handler) {
	e := r.entry(pattern)
	e.handlers[VerbBroadcast] = h
	e.validator = validate
}

func (r *Router) entry(pattern string) *routeEntry {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	for _, e := range r.entries {
		if equalPatterns(e.pattern, segments) {
			return e
		}
	}
	e := &routeEntry{pattern: segments, handlers: make(map[Verb]Handler)}
	r.entries = append(r.entries, e)
	return e
}

// Dispatch resolves and runs the handler for env, returning the response
// envelope. Unknown routes and handler failures come back as error
// envelopes; the router never panics the connection.
func (r *Router) Dispatch(env *Envelope) *Envelope {
	resp := &Envelope{ID: env.ID, Route: env.Route}

	req, handler, validator, err := r.resolve(env)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	if env.Verb == VerbBroadcast && validator != nil {
		if err := validator(req); err != nil {
			resp.Error = err.Error()
			return resp
		}
	}

	result, err := handler(req)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Response = data
	}
	return resp
}

// Validate runs only the broadcast validator for env, for hosts that vet a
// broadcast before fanning it out.
func (r *Router) Validate(env *Envelope) error {
	req, _, validator, err := r.resolve(env)
	if err != nil {
		return err
	}
	if validator == nil {
		return nil
	}
	return validator(req)
}

func (r *Router) resolve(env *Envelope) (*Request, Handler, ValidateBroadcast, error) {
	segments := strings.Split(strings.Trim(env.Route, "/"), "/")
	for _, e := range r.entries {
		params, ok := match(e.pattern, segments)
		if !ok {
			continue
		}
		handler, ok := e.handlers[env.Verb]
		if !ok {
			continue
		}
		// Explicit params on the envelope win over pattern bindings.
		for k, v := range env.Params {
			params[k] = v
		}
		req := &Request{
			Route:  env.Route,
			Verb:   env.Verb,
			Action: env.Action,
			Data:   env.Data,
			Params: params,
		}
		return req, handler, e.validator, nil
	}
	return nil, nil, nil, errors.Wrapf(ErrNoRoute, "%s %s", env.Verb, env.Route)
}

func match(pattern, segments []string) (map[string]string, bool) {
	if len(pattern) != len(segments) {
		return nil, false
	}
	params := make(map[string]string)
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			params[strings.TrimPrefix(p, ":")] = segments[i]
			continue
		}
		if p != segments[i] {
			return nil, false
		}
	}
	return params, true
}

func equalPatterns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
