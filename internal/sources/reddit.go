package sources

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/samber/lo"
	"github.com/vartanbeno/go-reddit/v2/reddit"
	"golang.org/x/oauth2"

	"story-video-gen/internal"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
	"story-video-gen/internal/retry"
	"story-video-gen/internal/text"
)

const (
	redditOAuthURL = "https://oauth.reddit.com"
	redditTokenURL = "https://www.reddit.com/api/v1/access_token"
)

// timeWindows are tried in order until one yields a usable post.
var timeWindows = []string{"hour", "day", "week", "month", "year", "all"}

type Reddit struct {
	client  *reddit.Client
	cfg     internal.StoryConfig
	tracker *Tracker
	shooter *Screenshotter
	log     *logging.Logger

	Policy retry.Policy
	pick   func(n int) (int, error)
}

// NewReddit logs in with a refresh token when one is configured, otherwise
// with username and password.
func NewReddit(ctx context.Context, cfg internal.StoryConfig, tracker *Tracker, hc *http.Client, log *logging.Logger) (*Reddit, error) {
	var (
		client *reddit.Client
		err    error
	)
	if cfg.RedditRefreshToken != "" {
		oc := &oauth2.Config{
			ClientID:     cfg.RedditClientID,
			ClientSecret: cfg.RedditClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: redditTokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		}
		authed := oc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, hc), &oauth2.Token{RefreshToken: cfg.RedditRefreshToken})
		authed.Timeout = hc.Timeout
		client, err = reddit.NewReadonlyClient(
			reddit.WithHTTPClient(authed),
			reddit.WithBaseURL(redditOAuthURL),
			reddit.WithUserAgent(cfg.RedditUserAgent),
		)
	} else {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       cfg.RedditClientID,
			Secret:   cfg.RedditClientSecret,
			Username: cfg.RedditUsername,
			Password: cfg.RedditPassword,
		}, reddit.WithHTTPClient(hc), reddit.WithUserAgent(cfg.RedditUserAgent))
	}
	if err != nil {
		return nil, fmt.Errorf("reddit client: %w", err)
	}
	r := newRedditWithClient(client, cfg, tracker, log)
	if cfg.ScreenshotTitle() {
		r.shooter = NewScreenshotter(cfg.RedditScreenshotTitleTheme, cfg.RedditScreenshotTitleZoom, log)
	}
	return r, nil
}

func newRedditWithClient(client *reddit.Client, cfg internal.StoryConfig, tracker *Tracker, log *logging.Logger) *Reddit {
	return &Reddit{client: client, cfg: cfg, tracker: tracker, log: log, Policy: retry.Default(), pick: cryptoIndex}
}

func (r *Reddit) Story(ctx context.Context) (model.Story, error) {
	if r.cfg.RedditPostID != "" {
		return r.Get(ctx, r.cfg.RedditPostID)
	}
	return r.Random(ctx)
}

func (r *Reddit) MarkComplete(id string) error {
	return r.tracker.MarkComplete(id)
}

// Get fetches one post by id.
func (r *Reddit) Get(ctx context.Context, id string) (model.Story, error) {
	id = strings.TrimPrefix(id, "t3_")
	r.log.Infof("reddit: fetching post %s", id)
	pc, err := retry.DoValue(ctx, r.Policy, func(ctx context.Context) (*reddit.PostAndComments, error) {
		pc, resp, err := r.client.Post.Get(ctx, id)
		if err != nil && resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, retry.Permanent(err)
		}
		return pc, err
	})
	if err != nil {
		return model.Story{}, fmt.Errorf("reddit post %s: %w", id, err)
	}
	if pc == nil || pc.Post == nil {
		return model.Story{}, fmt.Errorf("reddit post %s: empty response", id)
	}
	return toStory(pc.Post), nil
}

// Random picks a post from the top listings of the configured subreddits,
// widening the time window until something passes the filters.
func (r *Reddit) Random(ctx context.Context) (model.Story, error) {
	done, err := r.tracker.Done()
	if err != nil {
		return model.Story{}, err
	}
	for _, window := range timeWindows {
		var candidates []*reddit.Post
		for _, sub := range r.cfg.RedditRandomSubreddits {
			posts, err := r.top(ctx, sub, window)
			if err != nil {
				return model.Story{}, fmt.Errorf("reddit top r/%s (%s): %w", sub, window, err)
			}
			candidates = append(candidates, lo.Filter(posts, func(p *reddit.Post, _ int) bool {
				return r.eligible(p, done)
			})...)
		}
		if len(candidates) == 0 {
			r.log.Infof("reddit: no usable posts in the %q window", window)
			continue
		}
		i, err := r.pick(len(candidates))
		if err != nil {
			return model.Story{}, err
		}
		p := candidates[i]
		r.log.Infof("reddit: picked %s from r/%s (%d candidates, window=%s)", p.ID, p.SubredditName, len(candidates), window)
		return toStory(p), nil
	}
	return model.Story{}, errors.New("unable to get a random story, try increasing story.reddit_random_limit")
}

func (r *Reddit) top(ctx context.Context, sub, window string) ([]*reddit.Post, error) {
	sub = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(sub), "/"), "r/")
	return retry.DoValue(ctx, r.Policy, func(ctx context.Context) ([]*reddit.Post, error) {
		posts, _, err := r.client.Subreddit.TopPosts(ctx, sub, &reddit.ListPostOptions{
			ListOptions: reddit.ListOptions{Limit: r.cfg.RedditRandomLimit},
			Time:        window,
		})
		return posts, err
	})
}

func (r *Reddit) eligible(p *reddit.Post, done []string) bool {
	if p == nil || !p.IsSelfPost || p.Stickied || lo.Contains(done, p.ID) {
		return false
	}
	if p.NumberOfComments < r.cfg.RedditRandomMinComments {
		return false
	}
	if p.NSFW && !r.cfg.RedditRandomAllowNSFW {
		return false
	}
	n := len([]rune(text.StripMarkdown(p.Body)))
	if n < r.cfg.RedditRandomMinLength {
		return false
	}
	return r.cfg.RedditRandomMaxLength <= 0 || n <= r.cfg.RedditRandomMaxLength
}

// TitleScreenshot captures the post header when screenshots are enabled.
func (r *Reddit) TitleScreenshot(ctx context.Context, story model.Story) ([]byte, error) {
	if r.shooter == nil {
		return nil, errors.New("reddit: title screenshots are disabled")
	}
	return r.shooter.Capture(ctx, story.ID)
}

func toStory(p *reddit.Post) model.Story {
	return model.Story{
		ID:        p.ID,
		Title:     strings.TrimSpace(p.Title),
		Content:   text.StripMarkdown(p.Body),
		Subreddit: p.SubredditName,
		Source:    "reddit",
	}
}

func cryptoIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
