package crowdsaled

import (
	"bytes"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tokensale/core/events"
	"tokensale/observability/metrics"
)

func TestEventFeedKeepsBoundedTail(t *testing.T) {
	var buf bytes.Buffer
	feed := newEventFeed(slog.New(slog.NewJSONHandler(&buf, nil)), metrics.Crowdsale(), 2)

	for i := int64(1); i <= 3; i++ {
		feed.Emit(events.RateChanged{Old: big.NewInt(i), New: big.NewInt(i + 1), ChangedBy: testController})
	}
	recent := feed.Recent()
	require.Len(t, recent, 2)
	require.Equal(t, "3", recent[0].Attributes["new"])
	require.Equal(t, "4", recent[1].Attributes["new"])

	recent[0].Attributes["new"] = "tampered"
	require.Equal(t, "3", feed.Recent()[0].Attributes["new"])

	require.Contains(t, buf.String(), `"type":"crowdsale.rate_changed"`)
	require.Contains(t, buf.String(), testController.Hex())
}
