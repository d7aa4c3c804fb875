package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

// DryRunNotifier prints what would be posted instead of posting it.
type DryRunNotifier struct {
	mu    sync.Mutex
	out   io.Writer
	count int
}

// NewDryRunNotifier creates a dry-run notifier writing to out, or stdout
// when out is nil.
func NewDryRunNotifier(out io.Writer) *DryRunNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &DryRunNotifier{out: out}
}

// Name implements Publisher.
func (n *DryRunNotifier) Name() string {
	return "dryrun"
}

// Publish prints the payload text.
func (n *DryRunNotifier) Publish(_ context.Context, p render.Payload, channel string) (Ack, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.count++
	if channel == "" {
		channel = "stdout"
	}
	fmt.Fprintf(n.out, "--- %s #%d (%s, game %s) ---\n", p.Event, n.count, channel, p.GameID)
	fmt.Fprintln(n.out, p.Text)
	fmt.Fprintf(n.out, "\n(Length: %d characters)\n\n", utf8.RuneCountInString(p.Text))

	return Ack{Publisher: n.Name(), Channel: channel, ID: p.Key, At: time.Now()}, nil
}
