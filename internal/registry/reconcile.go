package registry

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/searchspot/internal/discover"
	"github.com/hyperifyio/searchspot/internal/engine"
	"github.com/hyperifyio/searchspot/internal/hostsearch"
)

// onEvent folds host notifications into the registry. Added and changed
// engines are stored tagged :found, except that an engine already known
// keeps the tags it has.
func (r *Registry) onEvent(ev hostsearch.Event) {
	switch ev.Kind {
	case hostsearch.Added, hostsearch.Changed:
		rec, err := ev.Engine.Record(engine.TagFound)
		if err != nil {
			log.Warn().Err(err).Str("event", ev.Kind.String()).Msg("cannot mirror host engine")
			return
		}
		r.mu.Lock()
		if prev, ok := r.records[rec.Host]; ok {
			rec.Tags = prev.Clone().Tags
		}
		err = r.addLocked(r.ctx, rec)
		if err == nil {
			err = r.settleLocked(r.ctx)
		}
		r.unlock()
		if err != nil {
			log.Warn().Err(err).Str("host", rec.Host).Msg("mirror host engine")
			return
		}
		log.Debug().Str("host", rec.Host).Str("event", ev.Kind.String()).Msg("mirrored host engine")
	case hostsearch.Removed:
		host, err := engine.CanonicalHost(ev.Engine.Site())
		if err != nil {
			log.Warn().Err(err).Str("engine", ev.Engine.Name).Msg("cannot resolve removed engine")
			return
		}
		if err := r.Remove(r.ctx, host); err != nil {
			log.Debug().Err(err).Str("host", host).Msg("remove mirrored engine")
		}
	case hostsearch.Current:
		log.Debug().Str("engine", ev.Engine.Name).Msg("host current engine changed")
	}
}

// Link is a descriptor reference found on a page: Site is the page URL and
// Engine the descriptor href, possibly relative to the page's host.
type Link struct {
	Site   string `json:"site"`
	Engine string `json:"engine"`
}

// Discover collects every OpenSearch descriptor advertised by page.
func (r *Registry) Discover(ctx context.Context, pageURL string, page []byte) (int, error) {
	hrefs, err := discover.Links(pageURL, page)
	if err != nil {
		return 0, err
	}
	links := make([]Link, 0, len(hrefs))
	for _, h := range hrefs {
		links = append(links, Link{Site: pageURL, Engine: h})
	}
	return r.Collect(ctx, links), nil
}

// Collect hands each descriptor to the host after validation and returns
// how many were accepted. Failures are logged and skipped. Engines show up
// later through the host's added notification.
func (r *Registry) Collect(ctx context.Context, links []Link) int {
	accepted := 0
	for _, l := range links {
		if ctx.Err() != nil {
			break
		}
		href, err := resolveLink(l)
		if err != nil {
			log.Warn().Err(err).Str("site", l.Site).Str("engine", l.Engine).Msg("bad descriptor link")
			continue
		}
		if err := r.source.AddByURL(ctx, href); err != nil {
			log.Warn().Err(err).Str("url", href).Msg("descriptor rejected")
			continue
		}
		accepted++
	}
	return accepted
}

func resolveLink(l Link) (string, error) {
	host, err := engine.CanonicalHost(l.Site)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(host)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(l.Engine))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
