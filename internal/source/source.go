// Package source holds one client per external data provider.
// Every client answers Fetch(ctx, identifier) with a RawRecord or ErrNotFound,
// is safe for concurrent use and goes through a shared Fetcher for caching,
// rate limiting and retries.
package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Rodons/CitationMap/internal/model"
	"github.com/Rodons/CitationMap/internal/util"
)

// Client fetches what one source knows about a normalized identifier.
// A record returned with a *PartialError is partial data, not a failure.
type Client interface {
	Name() model.SourceName
	Fetch(ctx context.Context, identifier string) (*model.RawRecord, error)
}

// nowFunc stamps FetchedAt (injectable for tests)
var nowFunc = func() time.Time { return time.Now().UTC() }

// NewClients builds the enabled clients in priority order.
// Lens is skipped with a warning when no token is configured.
func NewClients(cfg model.Config, f *Fetcher) ([]Client, error) {
	var clients []Client

	for _, name := range model.KnownSources {
		if !cfg.Sources.SourceEnabled(name) {
			continue
		}

		switch name {
		case model.SourceOpenAlex:
			clients = append(clients, NewOpenAlex(f, cfg.Sources.OpenAlex, cfg.HTTP.Mailto))
		case model.SourceICite:
			clients = append(clients, NewICite(f, cfg.Sources.ICite))
		case model.SourceLens:
			if cfg.Sources.Lens.Token == "" {
				log.WithField("source", name).Warn("lens enabled without token (set LENS_API_TOKEN), skipping")
				continue
			}
			clients = append(clients, NewLens(f, cfg.Sources.Lens))
		case model.SourceTrials:
			clients = append(clients, NewTrials(f, cfg.Sources.Trials))
		case model.SourceGuidelines:
			var robots *util.RobotsChecker
			if cfg.RateLimiting.RespectRobots {
				robots = util.NewRobotsChecker(f.client, cfg.HTTP.UserAgent)
			}
			clients = append(clients, NewGuidelines(f, cfg.Sources.Guidelines, robots))
		default:
			return nil, fmt.Errorf("no client for source %q", name)
		}
	}

	return clients, nil
}

// withQuery appends encoded parameters to a base URL and path
func withQuery(base, path string, params url.Values) string {
	u := strings.TrimRight(base, "/") + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func float64Ptr(v float64) *float64 { return &v }
