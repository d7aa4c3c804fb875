package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dghubble/go-twitter/twitter" //nolint:staticcheck // Using stable v1.1 API
	"github.com/dghubble/oauth1"

	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

// TweetLimit is the maximum tweet length in characters.
const TweetLimit = 280

// TwitterCredentials are the OAuth1 user-context credentials of the bot.
type TwitterCredentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// TwitterNotifier posts payloads as tweets.
type TwitterNotifier struct {
	client *twitter.Client
}

// NewTwitterNotifier creates a Twitter notifier from OAuth1 credentials.
func NewTwitterNotifier(creds TwitterCredentials) (*TwitterNotifier, error) {
	if creds.APIKey == "" || creds.APISecret == "" || creds.AccessToken == "" || creds.AccessSecret == "" {
		return nil, fmt.Errorf("missing required Twitter credentials")
	}

	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	httpClient := config.Client(oauth1.NoContext, token)

	return &TwitterNotifier{client: twitter.NewClient(httpClient)}, nil
}

// newTwitterNotifierWithClient is used by tests to point at a fake API.
func newTwitterNotifierWithClient(httpClient *http.Client) *TwitterNotifier {
	return &TwitterNotifier{client: twitter.NewClient(httpClient)}
}

// Name implements Publisher.
func (n *TwitterNotifier) Name() string {
	return "twitter"
}

// Publish posts the payload text as a tweet. Twitter has no channels, so
// channel is ignored.
func (n *TwitterNotifier) Publish(_ context.Context, p render.Payload, _ string) (Ack, error) {
	tweet, resp, err := n.client.Statuses.Update(formatTweet(p), nil)
	if err != nil {
		var apiErr twitter.APIError
		if errors.As(err, &apiErr) && resp != nil {
			return Ack{}, classifyStatus(n.Name(), resp.StatusCode, []byte(apiErr.Error()))
		}
		if resp != nil && resp.StatusCode >= 400 {
			return Ack{}, classifyStatus(n.Name(), resp.StatusCode, []byte(err.Error()))
		}
		return Ack{}, Transient(n.Name(), fmt.Errorf("posting tweet for %s: %w", p.Key, err))
	}

	ack := Ack{Publisher: n.Name(), At: time.Now()}
	if tweet != nil {
		ack.ID = strconv.FormatInt(tweet.ID, 10)
	}
	return ack, nil
}

// formatTweet fits the plain text payload into a single tweet.
func formatTweet(p render.Payload) string {
	return truncate(p.Text, TweetLimit)
}
