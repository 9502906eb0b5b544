package stream

import (
	"context"
	"fmt"
	"maps"
	"net/http"

	"github.com/prilive-com/upguard/auth"
	"github.com/prilive-com/upguard/upstream"
)

// Subscription returns a SubscribeFunc that sends a copy of sc.Subscribe.
// When sc.TokenField is set, that field receives a token freshly minted by
// creds on every connect.
func Subscription(sc upstream.StreamConfig, creds auth.Provider) SubscribeFunc {
	if len(sc.Subscribe) == 0 {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		msg := maps.Clone(sc.Subscribe)
		if sc.TokenField == "" {
			return msg, nil
		}
		if creds == nil {
			return nil, fmt.Errorf("token field %q set without credentials", sc.TokenField)
		}
		// Stream tokens carry no uri claim; a subscription is not a request line.
		tok, err := creds.Token(ctx, auth.Request{Method: http.MethodGet})
		if err != nil {
			return nil, fmt.Errorf("mint stream token: %w", err)
		}
		msg[sc.TokenField] = tok
		return msg, nil
	}
}
