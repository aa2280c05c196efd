package upstreams

import (
	"context"
	"math/big"

	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// subscribeWsHead runs a newHeads subscription alongside the polling loop
// when the upstream advertises a ws-url: it gives faster head updates and
// lets the upstream advertise the CapWs capability. On a dial, write or read
// error it logs and returns; it is not restarted, and heads then come from
// polling alone.
func (u *NativeUpstream) subscribeWsHead(ctx context.Context) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.cfg.WsUrl, nil)
	if err != nil {
		log.Warn().Err(err).Str("upstream", u.id).Msg("unable to open ws head subscription, falling back to polling")
		return
	}
	defer conn.Close()

	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []any{"newHeads"},
	}
	if err = conn.WriteJSON(sub); err != nil {
		log.Warn().Err(err).Str("upstream", u.id).Msg("unable to send ws subscription request")
		return
	}

	current := u.state.Load()
	next := *current
	next.Capabilities = next.Capabilities.Clone()
	next.Capabilities.Add(protocol.CapWs)
	u.state.Store(&next)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var message struct {
			Params struct {
				Result struct {
					Number string `json:"number"`
					Hash   string `json:"hash"`
				} `json:"result"`
			} `json:"params"`
		}
		if err = conn.ReadJSON(&message); err != nil {
			log.Warn().Err(err).Str("upstream", u.id).Msg("ws head subscription read failed")
			return
		}
		if message.Params.Result.Number == "" {
			continue
		}

		height, err := hexutil.DecodeBig(message.Params.Result.Number)
		if err != nil {
			continue
		}

		current = u.state.Load()
		next = *current
		next.Availability = protocol.Ok
		next.Head = protocol.NewBlockRef(height.Uint64(), message.Params.Result.Hash, new(big.Int).Set(height))
		u.state.Store(&next)
		u.publish(protocol.UpstreamUpdated)
	}
}
