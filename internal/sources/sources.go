// Package sources opens the job sources supported by the command line
// tools by name.
package sources

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/olivere/jobloop"
	"github.com/olivere/jobloop/mongodb"
	"github.com/olivere/jobloop/mysql"
	redissource "github.com/olivere/jobloop/redis"
	"github.com/olivere/jobloop/sqlite"
)

// Types lists the supported source types.
var Types = []string{"memory", "redis", "mysql", "sqlite", "mongodb"}

// Config selects and configures a source.
type Config struct {
	Type  string // one of Types
	URL   string // DSN or URL; ignored for memory
	Debug bool
	IDs   []jobloop.JobID // initial identifiers, fed after Start
}

// Handle is an opened source.
type Handle struct {
	Source jobloop.Source

	ids   []jobloop.JobID
	feed  func(context.Context, ...jobloop.JobID) error
	close func() error
}

// Open creates the source described by cfg. Nothing is connected until
// Start is called.
func Open(cfg Config) (*Handle, error) {
	h := &Handle{ids: cfg.IDs, close: func() error { return nil }}
	switch cfg.Type {
	case "", "memory":
		h.Source = jobloop.NewSliceSource(cfg.IDs...)
		h.ids = nil
	case "redis":
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		src := redissource.NewSource(client)
		h.Source, h.feed, h.close = src, src.Push, client.Close
	case "mysql":
		var options []mysql.SourceOption
		if cfg.Debug {
			options = append(options, mysql.SetDebug(true))
		}
		src, err := mysql.NewSource(cfg.URL, options...)
		if err != nil {
			return nil, err
		}
		h.Source, h.feed, h.close = src, src.Add, src.Close
	case "sqlite":
		src, err := sqlite.NewSource(cfg.URL)
		if err != nil {
			return nil, err
		}
		h.Source, h.feed, h.close = src, src.Add, src.Close
	case "mongodb":
		src, err := mongodb.NewSource(cfg.URL)
		if err != nil {
			return nil, err
		}
		h.Source, h.feed, h.close = src, src.Add, src.Close
	default:
		return nil, fmt.Errorf("sources: unsupported type %q; use one of %v", cfg.Type, Types)
	}
	return h, nil
}

// Start starts the source, if it needs starting, and feeds it the
// initial identifiers.
func (h *Handle) Start(ctx context.Context) error {
	if s, ok := h.Source.(jobloop.Starter); ok {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	if h.feed == nil || len(h.ids) == 0 {
		return nil
	}
	ids := h.ids
	h.ids = nil
	return h.feed(ctx, ids...)
}

// Close releases the connections held by the source.
func (h *Handle) Close() error {
	return h.close()
}
