// Package fetch downloads and parses one feed into a Channel.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/feed"
)

const maxBodySize = 32 << 20

// Phase names the step a fetch failed in.
type Phase string

const (
	PhaseRequest Phase = "request"
	PhaseStatus  Phase = "status"
	PhaseRead    Phase = "read"
	PhaseDecode  Phase = "decode"
	PhaseParse   Phase = "parse"
)

// Error is the single failure outcome of a fetch, tagged with the feed URL.
type Error struct {
	URL        string
	Phase      Phase
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s: HTTP %d", e.URL, e.Phase, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Fetcher.
type Options struct {
	Timeout       time.Duration
	Retries       int
	RetryInterval time.Duration
	UserAgent     string
	Gzip          bool
}

// Fetcher downloads feeds over HTTP and parses them.
type Fetcher struct {
	client *http.Client
	parser Parser
	opts   Options
	log    *logrus.Entry
}

// New creates a Fetcher. A nil parser means GofeedParser.
func New(env *app.Env, opts Options, parser Parser) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "feedsweep/" + env.Version
	}
	if parser == nil {
		parser = GofeedParser{}
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		parser: parser,
		opts:   opts,
		log:    env.Log.WithField("component", "fetch"),
	}
}

// Fetch downloads, decodes and parses d. Preparse edits rewrite the
// decoded document before parsing, edit rules are applied to item links,
// and markup is stripped unless d allows embedded HTML. Every
// failure is returned as *Error.
func (f *Fetcher) Fetch(ctx context.Context, d *feed.Descriptor) (*feed.Channel, error) {
	log := f.log.WithField("feed", d.URL)

	data, err := f.download(ctx, d, log)
	if err != nil {
		return nil, err
	}

	if d.ForceEncoding != "" {
		data, err = decodeForced(data, d.ForceEncoding)
		if err != nil {
			return nil, &Error{URL: d.URL, Phase: PhaseDecode, Err: err}
		}
	}

	if len(d.PreparseEdits) > 0 {
		data = []byte(feed.Rewrite(d.PreparseEdits, string(data)))
	}

	ch, err := f.parser.Parse(data, d.URL)
	if err != nil {
		return nil, &Error{URL: d.URL, Phase: PhaseParse, Err: err}
	}
	ch.FeedURL = d.URL
	if d.TitleOverride != "" {
		ch.Title = d.TitleOverride
	}

	feed.ApplyEditRules(d.EditRules, ch.Items)
	if !d.AllowEmbeddedHTML {
		stripChannel(ch)
	}

	log.WithField("items", len(ch.Items)).Debug("fetched feed")
	return ch, nil
}

func (f *Fetcher) download(ctx context.Context, d *feed.Descriptor, log *logrus.Entry) ([]byte, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.opts.RetryInterval
	exp.MaxInterval = 10 * f.opts.RetryInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(f.opts.Retries, 0))), ctx)

	data, err := backoff.RetryNotifyWithData(func() ([]byte, error) {
		return f.attempt(ctx, d)
	}, policy, func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Debug("retrying fetch")
	})
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &Error{URL: d.URL, Phase: PhaseRequest, Err: err}
	}
	return data, nil
}

// attempt performs one HTTP round trip. Client errors and malformed
// responses are permanent; network errors, 429 and 5xx are retried.
func (f *Fetcher) attempt(ctx context.Context, d *feed.Descriptor) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(&Error{URL: d.URL, Phase: PhaseRequest, Err: err})
	}
	ua := d.UserAgent
	if ua == "" {
		ua = f.opts.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")
	if f.opts.Gzip {
		req.Header.Set("Accept-Encoding", "gzip")
	} else {
		req.Header.Set("Accept-Encoding", "identity")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: d.URL, Phase: PhaseRequest, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		ferr := &Error{URL: d.URL, Phase: PhaseStatus, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, ferr
		}
		return nil, backoff.Permanent(ferr)
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, backoff.Permanent(&Error{URL: d.URL, Phase: PhaseRead, Err: err})
		}
		defer zr.Close()
		body = zr
	}

	data, err := io.ReadAll(io.LimitReader(body, maxBodySize))
	if err != nil {
		return nil, &Error{URL: d.URL, Phase: PhaseRead, Err: err}
	}
	return data, nil
}
