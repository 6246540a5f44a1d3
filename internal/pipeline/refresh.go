package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/submerge-go/internal/aggregate"
	"github.com/John-Robertt/submerge-go/internal/cache"
	"github.com/John-Robertt/submerge-go/internal/fetch"
	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/store"
	"github.com/John-Robertt/submerge-go/internal/sub/node"
	"github.com/John-Robertt/submerge-go/internal/uapolicy"
)

const DefaultConcurrency = 8

type Options struct {
	// Concurrency bounds parallel source fetches per refresh, default 8.
	// A queued source waits for a slot before its own fetch timeouts start,
	// so it is bounded only by the refresh context while it waits. Sources
	// still queued when that context ends are skipped and count as failed.
	Concurrency int
	// Fetch carries timeouts and retry policy; UserAgent and ConverterHost
	// are filled from settings per refresh.
	Fetch  fetch.FallbackOptions
	Logger logrus.FieldLogger
	Now    func() time.Time
	// OnFetch observes every remote fetch outcome.
	OnFetch func(model.FetchMethod)
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Pipeline struct {
	records *store.Records
	opt     Options
	log     logrus.FieldLogger
}

func New(records *store.Records, opt Options) *Pipeline {
	opt = opt.withDefaults()
	return &Pipeline{records: records, opt: opt, log: opt.Logger.WithField("component", "pipeline")}
}

type sourceResult struct {
	nodes    []string
	userInfo *model.UserInfo
	ok       bool
}

// Refresh returns the cache refresh function for sel: manual nodes and
// concurrently fetched remote sources, normalized and combined in
// configuration order.
func (p *Pipeline) Refresh(sel Selection) cache.RefreshFunc {
	return func(ctx context.Context) (cache.Snapshot, error) {
		if sel.Expired {
			return cache.Snapshot{Content: ExpiredNode}, nil
		}

		settings := sel.Settings
		fopt := p.opt.Fetch
		fopt.UserAgent = uapolicy.OutboundUserAgent("", settings.UserAgent)
		fopt.ConverterHost = settings.SubConverter
		if fopt.Logger == nil {
			fopt.Logger = p.log
		}

		var (
			manual []string
			remote []model.Source
			names  []string
		)
		for _, src := range sel.Sources {
			if src.IsRemote() {
				remote = append(remote, src)
				continue
			}
			nodes, st := node.Normalize(src.URL, src.DisplayName(), settings.Prefix.Manual)
			if len(nodes) == 0 {
				p.log.WithFields(logrus.Fields{"source": src.DisplayName(), "stats": st}).Warn("manual node dropped")
				continue
			}
			manual = append(manual, nodes...)
			names = append(names, src.DisplayName())
		}

		results := make([]sourceResult, len(remote))
		sem := make(chan struct{}, p.opt.Concurrency)
		var wg sync.WaitGroup
		for i, src := range remote {
			wg.Add(1)
			go func(i int, src model.Source) {
				defer wg.Done()
				skipped := func() {
					p.log.WithField("source", src.DisplayName()).Warn("refresh ended before source was fetched")
				}
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					skipped()
					return
				}
				defer func() { <-sem }()
				if ctx.Err() != nil {
					skipped()
					return
				}
				results[i] = p.fetchSource(ctx, src, fopt, settings.Prefix.Subscription)
			}(i, src)
		}
		wg.Wait()

		perSource := make([][]string, 0, len(remote))
		var (
			info      model.UserInfo
			haveInfo  bool
			succeeded int
		)
		for i, r := range results {
			if r.ok {
				succeeded++
				names = append(names, remote[i].DisplayName())
				perSource = append(perSource, r.nodes)
			}
			ui := r.userInfo
			if ui == nil {
				ui = remote[i].UserInfo
			}
			if ui != nil {
				info = info.Add(*ui)
				haveInfo = true
			}
		}

		snap := cache.Snapshot{
			Content:     aggregate.Combine(manual, perSource),
			SourceNames: names,
			Degraded:    len(remote) > 0 && succeeded == 0 && len(manual) == 0,
		}
		if haveInfo {
			snap.UserInfo = &info
		}
		return snap, nil
	}
}

func (p *Pipeline) fetchSource(ctx context.Context, src model.Source, fopt fetch.FallbackOptions, prefix bool) sourceResult {
	res := fetch.FetchWithFallback(ctx, src.URL, fopt)
	if p.opt.OnFetch != nil {
		p.opt.OnFetch(res.Method)
	}
	if !res.Success {
		return sourceResult{}
	}
	nodes, st := node.Normalize(res.Content, src.DisplayName(), prefix)
	log := p.log.WithFields(logrus.Fields{
		"source": src.DisplayName(),
		"method": res.Method,
		"nodes":  len(nodes),
	})
	if st.Malformed+st.Injected > 0 {
		log = log.WithFields(logrus.Fields{"malformed": st.Malformed, "injected": st.Injected})
	}
	log.Debug("source fetched")
	return sourceResult{nodes: nodes, userInfo: res.UserInfo, ok: true}
}
