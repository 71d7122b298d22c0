package httpx

import "fmt"

// redirectRequest builds the request that follows res, a redirect
// answering req.
func redirectRequest(req *Request, res *Response) (*Request, error) {
	loc := res.Header.Get("Location")
	u, err := req.URL.Resolve(loc)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: redirect to unsupported scheme %q", ErrMalformedURI, loc)
	}

	method, body := req.method(), req.Body
	switch res.StatusCode {
	case 303:
		if method != "HEAD" {
			method, body = "GET", nil
		}
	case 301, 302:
		if method == "POST" {
			method, body = "GET", nil
		}
	}

	h := req.Header.Clone()
	h.Del("Host")
	if body == nil {
		h.Del("Content-Length")
		h.Del("Transfer-Encoding")
		h.Del("Content-Type")
	}
	if u.Host != req.URL.Host {
		h.Del("Authorization")
		h.Del("Cookie")
	}
	return &Request{
		Method: method,
		URL:    u,
		Proto:  req.Proto,
		Header: h,
		Body:   body,
		Close:  req.Close,
		ctx:    req.ctx,
	}, nil
}
