package sync

import (
	"net/url"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/api"
	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/internal/transport"
)

// ChannelFactory opens live channels for resource paths. Watchers depend on
// this rather than a concrete transport so tests can substitute fakes.
type ChannelFactory interface {
	Channel(path string, params url.Values) transport.Channel
}

// Deps carries everything a watcher needs. Bus is optional: watchers publish
// into it when present so the bridge and sinks can fan updates out.
type Deps struct {
	API      *api.Client
	Channels ChannelFactory
	Bus      *events.Bus
	Log      *logrus.Logger
}

// HistoryOptions identifies one historical-data subscription.
type HistoryOptions struct {
	ResourceID string
	Intervals  []string
	Limit      int
	ChunkSize  int
}

// Key returns a normalized, order-independent subscription key. Watchers
// compare keys on reconfiguration and tear connections down only when the
// key actually changes.
func (o HistoryOptions) Key() string {
	intervals := make([]string, len(o.Intervals))
	copy(intervals, o.Intervals)
	sort.Strings(intervals)
	return o.ResourceID + "|" + strings.Join(intervals, ",")
}
