package sync

import (
	"context"
	"io"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/api"
	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/internal/transport"
	"github.com/dash-sync/pkg/config"
)

// fakeChannel records the handlers a watcher registers so tests can drive
// events through them directly.
type fakeChannel struct {
	path   string
	params url.Values

	mu          sync.Mutex
	handlers    *events.Handlers
	connected   bool
	connects    int
	disconnects int
}

func (c *fakeChannel) Connect(ctx context.Context, handlers *events.Handlers) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = handlers
	c.connected = true
	c.connects++
	return nil
}

func (c *fakeChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeChannel) emit(fn func(*events.Handlers)) {
	c.mu.Lock()
	handlers := c.handlers
	c.mu.Unlock()
	if handlers != nil {
		fn(handlers)
	}
}

// fakeFactory hands out fakeChannels and remembers every one it opened.
type fakeFactory struct {
	mu       sync.Mutex
	channels []*fakeChannel
}

func (f *fakeFactory) Channel(path string, params url.Values) transport.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &fakeChannel{path: path, params: params}
	f.channels = append(f.channels, ch)
	return ch
}

func (f *fakeFactory) opened() []*fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeChannel, len(f.channels))
	copy(out, f.channels)
	return out
}

func (f *fakeFactory) byInterval(interval string) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.params.Get("interval") == interval {
			return ch
		}
	}
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testDeps(baseURL string) (Deps, *fakeFactory) {
	log := quietLogger()
	factory := &fakeFactory{}
	return Deps{
		API:      api.NewClient(&config.BackendConfig{BaseURL: baseURL}, log),
		Channels: factory,
		Log:      log,
	}, factory
}
