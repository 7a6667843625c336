package interceptor

import "net/http"

// Transport is an http.RoundTripper mediating requests through a Worker.
// Declined requests go to Base.
type Transport struct {
	Worker *Worker
	// Base defaults to http.DefaultTransport
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	outcome, resp, err := t.Worker.Handle(req)
	if outcome == Ignored {
		return t.base().RoundTrip(req)
	}
	return resp, err
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
