package types

import (
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/saiset-co/sai-webserver/utils"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"
)

// ResponseWriter is the transport side of a Context. It is called once, on finalize.
type ResponseWriter interface {
	WriteResponse(status int, header http.Header, body []byte) error
}

type ResponseWriterFunc func(status int, header http.Header, body []byte) error

func (f ResponseWriterFunc) WriteResponse(status int, header http.Header, body []byte) error {
	return f(status, header, body)
}

// Request is the immutable view of an inbound message handed over by an adapter.
type Request struct {
	ID         uint64
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       []byte
	RemoteAddr string
}

type FinishObserver func(c *Context, err error)

// Context carries one request and its in-progress response through every phase.
// It is owned by a single request; only the closed flag and observers may be
// touched from another goroutine.
type Context struct {
	request Request
	params  Params
	writer  ResponseWriter

	values      map[string]any
	requestBody any
	matched     bool

	status  int
	header  http.Header
	body    any
	bodySet bool

	finished atomic.Bool
	closed   atomic.Bool

	mu        sync.Mutex
	onClose   []func()
	onFinish  []FinishObserver
	finishErr error
	notified  bool
}

func NewContext(request Request, writer ResponseWriter) *Context {
	if request.Query == nil {
		request.Query = url.Values{}
	}
	if request.Header == nil {
		request.Header = http.Header{}
	}

	return &Context{
		request: request,
		writer:  writer,
		status:  http.StatusOK,
		header:  http.Header{},
	}
}

func (c *Context) ID() uint64 {
	return c.request.ID
}

func (c *Context) Method() string {
	return c.request.Method
}

func (c *Context) Path() string {
	return c.request.Path
}

func (c *Context) Query() url.Values {
	return c.request.Query
}

func (c *Context) QueryValue(key string) string {
	return c.request.Query.Get(key)
}

func (c *Context) Params() Params {
	return c.params
}

func (c *Context) SetParams(params Params) {
	c.params = params
}

func (c *Context) Param(name string) string {
	value, _ := c.params.Get(name)
	return value
}

func (c *Context) Header(name string) string {
	return c.request.Header.Get(name)
}

func (c *Context) Headers() http.Header {
	return c.request.Header
}

func (c *Context) RawBody() []byte {
	return c.request.Body
}

func (c *Context) RemoteAddr() string {
	return c.request.RemoteAddr
}

// RequestBody returns the parsed request body set by a body parser, or nil.
func (c *Context) RequestBody() any {
	return c.requestBody
}

func (c *Context) SetRequestBody(body any) {
	c.requestBody = body
}

func (c *Context) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

func (c *Context) Get(key string) (any, bool) {
	value, ok := c.values[key]
	return value, ok
}

func (c *Context) MarkMatched() {
	c.matched = true
}

func (c *Context) Matched() bool {
	return c.matched
}

func (c *Context) Status() int {
	return c.status
}

func (c *Context) SetStatus(status int) {
	c.status = status
}

func (c *Context) ResponseBody() any {
	return c.body
}

// SetResponseBody stages body, overwriting anything staged before.
func (c *Context) SetResponseBody(body any) {
	c.body = body
	c.bodySet = true
}

func (c *Context) HasResponseBody() bool {
	return c.bodySet
}

func (c *Context) SetHeader(key, value string) {
	c.header.Set(key, value)
}

func (c *Context) ResponseHeader() http.Header {
	return c.header
}

// Send stages body and finalizes the response.
func (c *Context) Send(body any) error {
	if c.bodySet {
		return ErrBodyAlreadySet
	}
	if c.finished.Load() {
		return ErrResponseFinished
	}

	c.SetResponseBody(body)
	return c.Finalize()
}

// EncodeBody renders the staged body the way Finalize would, setting a default
// Content-Type when none was chosen.
func (c *Context) EncodeBody() ([]byte, error) {
	switch body := c.body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return body, nil
	case string:
		c.defaultContentType(ContentTypeText)
		return []byte(body), nil
	default:
		data, err := utils.Marshal(body)
		if err != nil {
			return nil, err
		}
		c.defaultContentType(ContentTypeJSON)
		return data, nil
	}
}

// Finalize writes status, headers and body to the transport. Only the first call has an effect.
func (c *Context) Finalize() error {
	if !c.finished.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	body, encErr := c.EncodeBody()
	if encErr != nil {
		err = WrapError(encErr, "failed to encode response body")
		c.status = http.StatusInternalServerError
		c.header.Set("Content-Type", ContentTypeText)
		body = []byte(http.StatusText(http.StatusInternalServerError))
	}

	if c.writer == nil {
		err = ErrResponseWriter
	} else if writeErr := c.writer.WriteResponse(c.status, c.header, body); writeErr != nil {
		err = WrapError(writeErr, "failed to write response")
	}

	c.mu.Lock()
	observers := c.onFinish
	c.onFinish = nil
	c.finishErr = err
	c.notified = true
	c.mu.Unlock()

	for _, observer := range observers {
		observer(c, err)
	}

	return err
}

func (c *Context) Finished() bool {
	return c.finished.Load()
}

func (c *Context) Closed() bool {
	return c.closed.Load()
}

// OnClose registers fn to run when the connection closes. If it already has, fn runs immediately.
func (c *Context) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// OnFinish registers fn to run after the response was written. If it already was, fn runs immediately.
func (c *Context) OnFinish(fn FinishObserver) {
	c.mu.Lock()
	if c.notified {
		err := c.finishErr
		c.mu.Unlock()
		fn(c, err)
		return
	}
	c.onFinish = append(c.onFinish, fn)
	c.mu.Unlock()
}

// Close marks the underlying connection closed and notifies close observers once.
func (c *Context) Close() {
	c.mu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return
	}
	observers := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	for _, observer := range observers {
		observer()
	}
}

func (c *Context) defaultContentType(contentType string) {
	if c.header.Get("Content-Type") == "" {
		c.header.Set("Content-Type", contentType)
	}
}
