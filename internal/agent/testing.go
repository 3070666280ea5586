package agent

import (
	"context"
	"sync"
)

// Recorder is an Invoker for tests. It records every request and answers
// with Respond, or with a fixed Markdown body when Respond is nil.
type Recorder struct {
	Respond func(req Request) (string, error)

	mu       sync.Mutex
	requests []Request
}

// Invoke implements Invoker.
func (r *Recorder) Invoke(_ context.Context, req Request) (*Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	out := "# " + req.Agent + " output\n"
	if r.Respond != nil {
		var err error
		out, err = r.Respond(req)
		if err != nil {
			return nil, err
		}
	}
	return &Response{Output: out, Prompt: req.Prompt, Command: "recorder"}, nil
}

// Requests returns a copy of the recorded requests.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// CallsFor returns the requests addressed to agentName.
func (r *Recorder) CallsFor(agentName string) []Request {
	var out []Request
	for _, req := range r.Requests() {
		if req.Agent == agentName {
			out = append(out, req)
		}
	}
	return out
}
